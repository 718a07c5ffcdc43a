package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/orvull/sparkcards/internal/auth"
	"github.com/orvull/sparkcards/internal/config"
	"github.com/orvull/sparkcards/internal/credentials"
	"github.com/orvull/sparkcards/internal/log"
	"github.com/orvull/sparkcards/internal/naming"
	"github.com/orvull/sparkcards/internal/server"
)

// Allows overriding the backend and signer to aid testing
var clientsCreator = func(ctx context.Context, cfg config.Config, creds *credentials.Provider) (server.Backend, auth.Signer, error) {
	backend, err := server.NewBackend(ctx, cfg, creds)
	if err != nil {
		return nil, nil, err
	}
	signer, err := server.NewSigner(ctx, cfg, creds)
	if err != nil {
		return nil, nil, err
	}
	return backend, signer, nil
}

var stdOutWriter io.Writer = os.Stdout

type globalFlags struct {
	token   string
	issuer  string
	class   string
	kind    string
	backend string
}

func createRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:          "walletctl",
		Short:        "Administer SparkCards wallet classes and passes.",
		SilenceUsage: true,
	}
	root.SetOut(stdOutWriter)
	root.SetErr(stdOutWriter)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.token, "token", "", "OAuth access token to use instead of the configured credentials")
	pf.StringVar(&flags.issuer, "issuer", "", "issuer id (overrides ISSUER_ID)")
	pf.StringVar(&flags.class, "class", "", "class id or suffix (overrides CLASS_ID)")
	pf.StringVar(&flags.kind, "kind", "", "object kind: generic or loyalty (overrides OBJECT_TYPE)")
	pf.StringVar(&flags.backend, "backend", "", "wallet backend: google or memory (overrides WALLET_BACKEND)")

	root.AddCommand(createClassCommand(flags), createObjectCommand(flags), createStaffKeyCommand())
	return root
}

// session is the configured service plus its backend for one invocation.
type session struct {
	cfg     config.Config
	backend server.Backend
	svc     *server.Service
}

func openSession(ctx context.Context, flags *globalFlags) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log.Configure(cfg.LogLevel, "text")
	classRaw := flags.class
	if flags.issuer != "" {
		cfg.IssuerID = flags.issuer
		if classRaw == "" && os.Getenv("CLASS_ID") == "" {
			classRaw = config.DefaultClassSuffix
		}
	}
	if classRaw != "" {
		cfg.ClassID = naming.NormalizeClassID(cfg.IssuerID, classRaw)
	}
	if flags.kind != "" {
		cfg.ObjectType = flags.kind
	}
	if flags.backend != "" {
		cfg.WalletBackend = strings.ToLower(flags.backend)
	}

	var creds *credentials.Provider
	if flags.token != "" {
		creds = credentials.Static(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: flags.token,
			Expiry:      time.Now().Add(time.Hour),
		}))
		if cfg.SignerMode == config.SignerAuto {
			cfg.SignerMode = config.SignerIAM
		}
	} else {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if creds, err = credentials.New(ctx, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.IssuerID == "" {
		return nil, errors.New("ISSUER_ID is required")
	}

	backend, signer, err := clientsCreator(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, backend: backend, svc: server.New(cfg, backend, signer)}, nil
}

func createClassCommand(flags *globalFlags) *cobra.Command {
	class := &cobra.Command{
		Use:   "class",
		Short: "Manage pass classes",
	}
	var logo string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the configured class if it does not exist yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			spec := server.ClassSpec(s.cfg)
			if logo != "" {
				spec.LogoURI = logo
			}
			outcome, err := s.backend.CreateClass(cmd.Context(), spec)
			if err != nil {
				return err
			}
			cmd.Printf("%s %s\n", spec.ID, outcome)
			return nil
		},
	}
	create.Flags().StringVar(&logo, "logo", "", "program logo URI (overrides LOGO_URI)")
	class.AddCommand(create)
	return class
}

func createObjectCommand(flags *globalFlags) *cobra.Command {
	object := &cobra.Command{
		Use:   "object",
		Short: "Issue, inspect and stamp passes",
	}
	object.AddCommand(createIssueCommand(flags), createAwardCommand(flags), createGetCommand(flags), createLinkCommand(flags))
	return object
}

func createIssueCommand(flags *globalFlags) *cobra.Command {
	var (
		name   string
		id     string
		stampN int
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Create or update a pass and print its save link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			req := server.IssueRequest{Name: name, ObjectID: id}
			if cmd.Flags().Changed("stamps") {
				req.StampN = &stampN
			}
			res, err := s.svc.Issue(cmd.Context(), req)
			if err != nil {
				return err
			}
			cmd.Printf("object:  %s (%s)\n", res.ObjectID, res.Outcome)
			cmd.Printf("stamps:  %d / %d\n", res.StampN, res.Total)
			cmd.Printf("save:    %s\n", res.SaveURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name shown on the card")
	cmd.Flags().StringVar(&id, "id", "", "object id or bare suffix (generated when empty)")
	cmd.Flags().IntVar(&stampN, "stamps", 0, "stamp count to set (existing passes keep theirs when omitted)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func createAwardCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "award [object id]",
		Short: "Add one stamp to a pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			res, err := s.svc.AwardStamp(cmd.Context(), server.AwardRequest{ObjectID: args[0]})
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d -> %d / %d\n", res.ObjectID, res.Previous, res.New, res.Total)
			return nil
		},
	}
}

func createGetCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get [object id]",
		Short: "Show the stamp progress of a pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			res, err := s.svc.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("object:  %s\n", res.ObjectID)
			cmd.Printf("class:   %s\n", res.ClassID)
			cmd.Printf("name:    %s\n", res.Name)
			cmd.Printf("stamps:  %d / %d\n", res.StampN, res.Total)
			return nil
		},
	}
}

func createLinkCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "link [object id]",
		Short: "Print a fresh save link for an existing pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			_, url, err := s.svc.SaveURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(url)
			return nil
		},
	}
}

func createStaffKeyCommand() *cobra.Command {
	staff := &cobra.Command{
		Use:   "staff-key",
		Short: "Manage the staff key guarding /award_stamp",
	}
	staff.AddCommand(&cobra.Command{
		Use:   "hash [key]",
		Short: "Print the bcrypt hash to put in STAFF_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashStaffKey(args[0])
			if err != nil {
				return err
			}
			cmd.Println(hash)
			return nil
		},
	})
	return staff
}
