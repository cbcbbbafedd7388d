package main

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"braces.dev/errtrace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ghettovoice/sipnotify/config"
	"github.com/ghettovoice/sipnotify/dispatch"
	"github.com/ghettovoice/sipnotify/engine"
	"github.com/ghettovoice/sipnotify/internal/errorutil"
	"github.com/ghettovoice/sipnotify/internal/sharedstate"
	"github.com/ghettovoice/sipnotify/log"
	"github.com/ghettovoice/sipnotify/session"
)

type rootFlags struct {
	root        string
	group       string
	configPath  string
	dev         bool
	metricsFile string

	stderr io.Writer
	log    *slog.Logger
}

func (f *rootFlags) container() config.Container {
	c := config.DefaultContainer()
	if f.root != "" {
		c.Root = f.root
	}
	if f.group != "" {
		c.GroupID = f.group
	}
	return c
}

func (f *rootFlags) settingsPath() string {
	if f.configPath != "" {
		return f.configPath
	}
	return f.container().PreferenceFile(config.DefaultFileName)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &rootFlags{stderr: stderr}

	cmd := &cobra.Command{
		Use:          "sipnotify",
		Short:        "Run one bounded SIP unit of work for a notification",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			f.log = log.New(f.stderr, &log.Options{Dev: f.dev})
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.root, "root", "", "shared container root (default $"+config.RootEnv+" or the user config dir)")
	pf.StringVar(&f.group, "group", config.DefaultGroupID, "shared container group id")
	pf.StringVar(&f.configPath, "config", "", "settings file (default <container>/Library/Preferences/sipnotify/"+config.DefaultFileName+")")
	pf.BoolVar(&f.dev, "dev", false, "use the developer log format")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "write dispatch metrics to this file in the text exposition format")

	cmd.AddCommand(
		newPushCmd(f),
		newReplyCmd(f),
		newSeenCmd(f),
		newMainCmd(f),
		newConfigCmd(f),
	)
	return cmd
}

// run dispatches trg and prints the result. A produced result is a success
// even when the unit of work degraded.
func (f *rootFlags) run(cmd *cobra.Command, trg dispatch.Trigger) error {
	reg := prometheus.NewRegistry()
	core := session.NewCore(&session.Options{
		Container:  f.container(),
		ConfigPath: f.configPath,
		Log:        f.log,
	})
	d := dispatch.New(core, &dispatch.Options{
		Metrics: dispatch.NewMetrics(reg),
		Log:     f.log,
	})

	res, _ := d.Dispatch(cmd.Context(), trg)
	if f.metricsFile != "" {
		if err := prometheus.WriteToTextfile(f.metricsFile, reg); err != nil {
			f.log.LogAttrs(cmd.Context(), slog.LevelWarn, "failed to write metrics", slog.Any("error", err))
		}
	}
	return errtrace.Wrap(writeJSON(cmd.OutOrStdout(), res))
}

func newPushCmd(f *rootFlags) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Handle an incoming message push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p map[string]any
			if payload != "" {
				var err error
				if p, err = readJSONMap(payload); err != nil {
					return errtrace.Wrap(err)
				}
			}
			return errtrace.Wrap(f.run(cmd, dispatch.InboundPush{Payload: p}))
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "JSON file holding the push payload")
	return cmd
}

type contextFlags struct {
	peer, local, metadata string
}

func (c *contextFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.peer, "peer", "", "peer address of the conversation")
	cmd.Flags().StringVar(&c.local, "local", "", "local address of the conversation")
	cmd.Flags().StringVar(&c.metadata, "metadata", "", "JSON file holding the notification metadata")
	cmd.MarkFlagsMutuallyExclusive("metadata", "peer")
	cmd.MarkFlagsMutuallyExclusive("metadata", "local")
	cmd.MarkFlagsRequiredTogether("peer", "local")
}

func (c *contextFlags) context() (dispatch.Context, error) {
	if c.metadata == "" {
		return dispatch.Context{PeerAddress: c.peer, LocalAddress: c.local}, nil
	}
	md, err := readJSONMap(c.metadata)
	if err != nil {
		return dispatch.Context{}, errtrace.Wrap(err)
	}
	// missing addresses are reported by the dispatcher
	ctx, _ := dispatch.ContextFromMetadata(md)
	return ctx, nil
}

func newReplyCmd(f *rootFlags) *cobra.Command {
	var (
		text string
		cf   contextFlags
	)
	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Reply to a conversation from a notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := cf.context()
			if err != nil {
				return errtrace.Wrap(err)
			}
			return errtrace.Wrap(f.run(cmd, dispatch.UserReply{Text: text, Context: ctx}))
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "reply text")
	_ = cmd.MarkFlagRequired("text")
	cf.register(cmd)
	return cmd
}

func newSeenCmd(f *rootFlags) *cobra.Command {
	var cf contextFlags
	cmd := &cobra.Command{
		Use:   "seen",
		Short: "Mark a conversation from a notification as seen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := cf.context()
			if err != nil {
				return errtrace.Wrap(err)
			}
			return errtrace.Wrap(f.run(cmd, dispatch.UserMarkSeen{Context: ctx}))
		},
	}
	cf.register(cmd)
	return cmd
}

func (f *rootFlags) shared(cmd *cobra.Command, fn func(*sharedstate.File) (sharedstate.Record, error)) error {
	st, err := sharedstate.Open(f.container().DataFile(engine.SharedStateFileName))
	if err != nil {
		return errtrace.Wrap(err)
	}
	rec, err := fn(st)
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(writeJSON(cmd.OutOrStdout(), rec))
}

func newMainCmd(f *rootFlags) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "main",
		Short: "Manage the main actor of the shared identity",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "app", "actor name")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "acquire",
			Short: "Become the main actor and ask other actors to stop",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return errtrace.Wrap(f.shared(cmd, func(st *sharedstate.File) (sharedstate.Record, error) {
					return errtrace.Wrap2(st.AcquireMain(cmd.Context(), actor))
				}))
			},
		},
		&cobra.Command{
			Use:   "release",
			Short: "Give up the main actor role",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return errtrace.Wrap(f.shared(cmd, func(st *sharedstate.File) (sharedstate.Record, error) {
					return errtrace.Wrap2(st.ReleaseMain(cmd.Context(), actor))
				}))
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the shared lifecycle record",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return errtrace.Wrap(f.shared(cmd, func(st *sharedstate.File) (sharedstate.Record, error) {
					return errtrace.Wrap2(st.Load())
				}))
			},
		},
	)
	return cmd
}

func newConfigCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change the shared settings",
	}

	set := &cobra.Command{
		Use:   "set SECTION KEY VALUE",
		Short: "Set a settings key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openOrCreate(f.settingsPath())
			if err != nil {
				return errtrace.Wrap(err)
			}
			st.Set(args[0], args[1], args[2])
			return errtrace.Wrap(st.Save(cmd.Context()))
		},
	}

	get := &cobra.Command{
		Use:   "get SECTION KEY",
		Short: "Print a settings key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := config.Open(f.settingsPath())
			if err != nil {
				return errtrace.Wrap(err)
			}
			if !st.Has(args[0], args[1]) {
				return errtrace.Wrap(errorutil.NewInvalidArgumentError("key %s.%s is not set", args[0], args[1]))
			}
			_, err = io.WriteString(cmd.OutOrStdout(), st.String(args[0], args[1], "")+"\n")
			return errtrace.Wrap(err)
		},
	}

	cmd.AddCommand(set, get)
	return cmd
}

func openOrCreate(path string) (*config.Store, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.New(path), nil
	}
	return errtrace.Wrap2(config.Open(path))
}

func readJSONMap(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError(err))
	}
	return m, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errtrace.Wrap(enc.Encode(v))
}
