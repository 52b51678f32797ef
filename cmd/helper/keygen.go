package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/mpc-helper/cryptoutils"
)

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "Generate a self-signed helper certificate, its private key and an HPKE key pair",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "name",
			Required: true,
			Usage:    "certificate common name, e.g. helper1.example.com",
		},
		&cli.StringSliceFlag{
			Name:  "host",
			Usage: "DNS name or IP address peers use to reach this helper (repeatable, defaults to --name)",
		},
		&cli.StringFlag{
			Name:  "cert-out",
			Value: "helper.pem",
			Usage: "output path of the PEM certificate",
		},
		&cli.StringFlag{
			Name:  "key-out",
			Value: "helper.key",
			Usage: "output path of the PEM private key",
		},
		&cli.StringFlag{
			Name:  "hpke-pub-out",
			Usage: "output path of the hex HPKE public key (skipped when empty)",
		},
		&cli.StringFlag{
			Name:  "hpke-key-out",
			Usage: "output path of the hex HPKE private key",
		},
		&cli.DurationFlag{
			Name:  "validity",
			Value: cryptoutils.DefaultCertValidity,
			Usage: "certificate lifetime",
		},
	},
	Action: func(cCtx *cli.Context) error {
		name := cCtx.String("name")
		hosts := cCtx.StringSlice("host")
		if len(hosts) == 0 {
			hosts = []string{name}
		}

		cert, key, err := cryptoutils.GenerateHelperCertificate(name, hosts, cCtx.Duration("validity"))
		if err != nil {
			return fmt.Errorf("generating certificate: %w", err)
		}
		if err := cryptoutils.VerifyCertificate(key, cert, name); err != nil {
			return fmt.Errorf("generated certificate does not verify: %w", err)
		}

		if err := os.WriteFile(cCtx.String("cert-out"), cert, 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(cCtx.String("key-out"), key, 0o600); err != nil {
			return err
		}
		if pubOut := cCtx.String("hpke-pub-out"); pubOut != "" {
			keyOut := cCtx.String("hpke-key-out")
			if keyOut == "" {
				return fmt.Errorf("--hpke-key-out is required with --hpke-pub-out")
			}
			pub, priv, err := cryptoutils.GenerateHPKEKeyPair()
			if err != nil {
				return fmt.Errorf("generating hpke key pair: %w", err)
			}
			if err := os.WriteFile(pubOut, []byte(pub+"\n"), 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(keyOut, []byte(priv+"\n"), 0o600); err != nil {
				return err
			}
		}
		fmt.Printf("wrote %s and %s, valid until %s\n", cCtx.String("cert-out"), cCtx.String("key-out"),
			time.Now().Add(cCtx.Duration("validity")).Format(time.DateOnly))
		return nil
	},
}
