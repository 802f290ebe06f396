package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/npezzotti/go-chatstream/internal/auth"
	"github.com/npezzotti/go-chatstream/internal/config"
)

func main() {
	var (
		subject    string
		room       string
		ttl        time.Duration
		signingKey string
	)
	flag.StringVar(&subject, "subject", "", "subject id to put in the token")
	flag.StringVar(&room, "room", "", "room id to put in the token")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("CHATSTREAM_SIGNING_KEY"), "base64 encoded signing key")
	flag.Parse()

	if subject == "" || room == "" {
		fmt.Fprintln(os.Stderr, "both -subject and -room are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	cfg.SigningSecret = signingKey
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	token, err := auth.Issue(cfg.SigningKey, subject, room, ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue token:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
