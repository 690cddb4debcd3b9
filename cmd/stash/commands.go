package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haukened/stash/internal/config"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/metrics"
)

var errConfig = errors.New("configuration error")

// cli carries per-invocation state shared by the commands.
type cli struct {
	stderr   io.Writer
	st       *stack
	location string
	encrypt  bool
}

// run executes one command line and always releases the storage container.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := &cli{stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if c.st != nil {
		if cErr := c.st.close(context.Background()); err == nil {
			err = cErr
		}
	}
	return err
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stash",
		Short: "Store, read and encrypt files across app-private and shared locations",
		Long: `stash saves, reads, deletes and appends to files in app-private storage
(internal, cache, external) or in shared media locations (downloads, documents,
pictures, ...). With --encrypt the payload is sealed with AES-256-GCM using a
key created on first use in the configured key store.

Locations are written kind[:sub/dir], for example "internal:notes" or
"documents:reports/2024". Configuration comes from STASH_* environment variables.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVarP(&c.location, "location", "l", "", "storage location kind[:sub/dir] (default STASH_DEFAULT_LOCATION)")
	root.PersistentFlags().BoolVarP(&c.encrypt, "encrypt", "e", false, "encrypt on write and decrypt on read")

	root.AddCommand(
		c.saveCmd(),
		c.readCmd(),
		c.deleteCmd(),
		c.appendCmd(),
		c.textCmd(),
		c.keyCmd(),
		c.janitorCmd(),
		c.metricsCmd(),
	)
	return root
}

// setup loads configuration and builds the storage container.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	log := slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})).
		With("op_id", uuid.NewString(), "command", cmd.Name())
	st, err := openStack(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	c.st = st
	st.metrics.Start(cmd.Context())
	log.Debug("stack ready", "keystore", cfg.KeyStore, "public_backend", cfg.PublicBackend)
	return nil
}

func (c *cli) resolveLocation() (domain.StorageLocation, error) {
	if c.location == "" {
		return c.st.cfg.Location(), nil
	}
	return domain.ParseLocation(c.location)
}

func (c *cli) saveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save stdin (or --file) as <name>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.resolveLocation()
			if err != nil {
				return err
			}
			var src io.Reader = cmd.InOrStdin()
			if file != "" {
				// #nosec G304: the operator names the input file explicitly.
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			l, err := c.st.repository(c.encrypt).Save(cmd.Context(), args[0], loc, src)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), l)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from this file instead of stdin")
	return cmd
}

func (c *cli) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <name>",
		Short: "Write the contents of <name> to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.resolveLocation()
			if err != nil {
				return err
			}
			rc, err := c.st.repository(c.encrypt).Read(cmd.Context(), args[0], loc)
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete <name>",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.resolveLocation()
			if err != nil {
				return err
			}
			return c.st.repository(c.encrypt).Delete(cmd.Context(), args[0], loc)
		},
	}
}

func (c *cli) appendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "append <name> <text>...",
		Short: "Append text to <name>, creating it when missing",
		Long: `Append text to <name>. Plain appends require a text extension
(txt, text, log, conf, cfg, ini, md, csv). Encrypted appends re-encrypt the
whole file and must not race with other writers to the same file.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := c.resolveLocation()
			if err != nil {
				return err
			}
			l, err := c.st.repository(c.encrypt).AppendText(cmd.Context(), args[0], loc, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), l)
			return nil
		},
	}
}

// argOrStdin returns the joined args, or all of stdin without the trailing
// newline when no args were given.
func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(b), "\n"), nil
}

func (c *cli) textCmd() *cobra.Command {
	text := &cobra.Command{
		Use:   "text",
		Short: "Encrypt and decrypt short strings",
	}
	text.AddCommand(&cobra.Command{
		Use:   "encrypt [plaintext]",
		Short: "Print the base64 envelope of plaintext (or stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			out, err := c.st.text.Encrypt(cmd.Context(), s)
			if err != nil {
				return err
			}
			c.st.metrics.Inc(metrics.CounterTextEncrypted, 1)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}, &cobra.Command{
		Use:   "decrypt [envelope]",
		Short: "Print the plaintext of a base64 envelope (or stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			out, err := c.st.text.Decrypt(cmd.Context(), s)
			if err != nil {
				if errors.Is(err, domain.ErrAuthentication) {
					c.st.metrics.Inc(metrics.CounterAuthFailures, 1)
				}
				return err
			}
			c.st.metrics.Inc(metrics.CounterTextDecrypted, 1)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	})
	return text
}

func parsePurpose(s string) (domain.KeyPurpose, error) {
	switch strings.ToLower(s) {
	case "text":
		return domain.PurposeText, nil
	case "file":
		return domain.PurposeFile, nil
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrUnknownPurpose, s)
}

func (c *cli) keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage purpose-bound keys",
	}
	key.AddCommand(&cobra.Command{
		Use:       "ensure [text|file]...",
		Short:     "Create the keys for the given purposes (default all) if missing",
		ValidArgs: []string{"text", "file"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"text", "file"}
			}
			for _, a := range args {
				p, err := parsePurpose(a)
				if err != nil {
					return err
				}
				k, err := c.st.keys.GetOrCreate(cmd.Context(), p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p, k.Alias())
			}
			return nil
		},
	})
	return key
}

func (c *cli) janitorCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Purge expired cache files and orphaned media blobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			j := c.st.janitor
			if once {
				mv := j.RunOnce(cmd.Context())
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(mv)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			c.st.log.Info("janitor running", "interval", c.st.cfg.JanitorInterval, "cache_max_age", c.st.cfg.CacheMaxAge)
			j.Start(ctx)
			<-ctx.Done()
			j.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and print its counters")
	return cmd
}

func (c *cli) metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print persisted counters and summaries as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return metrics.WriteReport(cmd.Context(), cmd.OutOrStdout(), c.st.metrics, time.Now())
		},
	}
}
