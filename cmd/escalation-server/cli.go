package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/docai/escalation/internal/client"
	"github.com/docai/escalation/internal/config"
	"github.com/docai/escalation/internal/domain/emergency"
	"github.com/docai/escalation/internal/domain/hospital"
	"github.com/docai/escalation/internal/domain/messaging"
	"github.com/docai/escalation/internal/domain/triage"
	"github.com/docai/escalation/internal/lifecycle"
	"github.com/docai/escalation/internal/realtime"
	"github.com/docai/escalation/internal/session"
)

// ---------------------------------------------------------------------------
// backend connection
// ---------------------------------------------------------------------------

// backendConn is an authenticated API client. tokens is nil when running
// without AUTH_TOKEN against a development backend.
type backendConn struct {
	client   *client.Client
	identity session.Identity
	tokens   client.TokenSource
	logout   func()
}

func connect(ctx context.Context, cfg *config.Config, role session.Role, logger zerolog.Logger) (*backendConn, error) {
	opts := []client.Option{client.WithLogger(logger)}
	if cfg.AuthToken == "" {
		logger.Warn().Msg("AUTH_TOKEN not set, calling the backend anonymously")
		return &backendConn{
			client:   client.New(cfg.BackendURL, opts...),
			identity: session.Identity{Role: role},
			logout:   func() {},
		}, nil
	}

	authn := session.NewAuthenticator(
		session.StaticProvider{Credential: cfg.AuthToken},
		session.ClientExchanger(cfg.BackendURL, opts...),
		logger,
	)
	sess, err := authn.Login(ctx, session.Credentials{}, role)
	if err != nil {
		return nil, err
	}
	identity, _ := sess.Identity()
	return &backendConn{
		client:   client.New(cfg.BackendURL, append(opts, client.WithTokenSource(sess))...),
		identity: identity,
		tokens:   sess,
		logout: func() {
			if err := authn.Logout(context.Background(), sess); err != nil {
				logger.Warn().Err(err).Msg("logout failed")
			}
		},
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// assess
// ---------------------------------------------------------------------------

type assessInput struct {
	Text     string
	Language triage.Locale
	Position *hospital.Coordinates
	Submit   bool
	Patient  lifecycle.Patient
}

// assessReport is printed by the assess command.
type assessReport struct {
	CanContinue     bool                      `json:"canContinue"`
	Result          *triage.Result            `json:"result,omitempty"`
	DisplayReasons  []string                  `json:"displayReasons,omitempty"`
	EmergencyNumber string                    `json:"emergencyNumber,omitempty"`
	Located         bool                      `json:"located"`
	Hospitals       []hospital.RankedHospital `json:"hospitals,omitempty"`
	Emergency       *emergency.Emergency      `json:"emergency,omitempty"`
}

// runAssess runs the escalation pipeline for one report. Hospitals are
// ranked only for emergencies; the case is submitted when in.Submit is set.
func runAssess(ctx context.Context, cfg *config.Config, in assessInput, backend lifecycle.Backend, logger zerolog.Logger) (*assessReport, error) {
	if !triage.CanContinue(in.Text) {
		return &assessReport{}, nil
	}
	lang := in.Language
	if lang == "" {
		lang = triage.LocaleEnglish
	}
	if !lang.Valid() {
		return nil, fmt.Errorf("unsupported language %q", lang)
	}

	res := triage.DefaultPipeline(cfg.EmergencyThreshold).Assess(triage.SymptomText{Text: in.Text, Language: lang})
	report := &assessReport{
		CanContinue:    true,
		Result:         &res,
		DisplayReasons: res.Assessment.DisplayReasons(),
	}
	if !res.Assessment.IsEmergency {
		return report, nil
	}

	dir, err := hospital.LoadDirectory(cfg.HospitalDirectoryFile)
	if err != nil {
		return nil, err
	}
	matcher := hospital.NewMatcher(dir, hospital.Config{
		SpeedKmh:      cfg.AssumedSpeedKmh,
		DefaultCity:   cfg.DefaultCity,
		LocateTimeout: cfg.GeoTimeout,
	}, logger)
	var loc hospital.Locator = hospital.NoLocator{}
	if in.Position != nil {
		loc = hospital.FixedLocator(*in.Position)
	}
	report.Hospitals, report.Located = matcher.Nearby(ctx, loc)
	report.EmergencyNumber = cfg.EmergencyNumber

	if in.Submit {
		created, err := lifecycle.NewManager(backend, logger).Create(ctx, res.Assessment, in.Patient)
		if err != nil {
			return report, fmt.Errorf("submit emergency: %w", err)
		}
		report.Emergency = created
	}
	return report, nil
}

func assessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess [symptoms...]",
		Short: "Assess symptom text and list nearby hospitals for emergencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			lang, _ := flags.GetString("language")
			submit, _ := flags.GetBool("submit")
			in := assessInput{
				Text:     strings.Join(args, " "),
				Language: triage.Locale(lang),
				Submit:   submit,
			}
			if flags.Changed("lat") && flags.Changed("lng") {
				lat, _ := flags.GetFloat64("lat")
				lng, _ := flags.GetFloat64("lng")
				in.Position = &hospital.Coordinates{Lat: lat, Lng: lng}
			}
			in.Patient.Name, _ = flags.GetString("name")
			in.Patient.City, _ = flags.GetString("city")
			if flags.Changed("age") {
				age, _ := flags.GetInt("age")
				in.Patient.Age = &age
			}

			ctx, cancel := signalContext()
			defer cancel()

			var backend lifecycle.Backend
			if submit {
				conn, err := connect(ctx, cfg, session.RolePatient, logger)
				if err != nil {
					return err
				}
				defer conn.logout()
				backend = conn.client
				in.Patient.ID, _ = flags.GetString("patient")
				if in.Patient.ID == "" {
					in.Patient.ID = conn.identity.UID
				}
				if in.Patient.Name == "" {
					in.Patient.Name = conn.identity.Name()
				}
			}

			report, err := runAssess(ctx, cfg, in, backend, logger)
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	cmd.Flags().String("language", string(triage.LocaleEnglish), "Input language (en, hi, te, ta, kn, ml)")
	cmd.Flags().Float64("lat", 0, "Reporter latitude")
	cmd.Flags().Float64("lng", 0, "Reporter longitude")
	cmd.Flags().Bool("submit", false, "Create an emergency case when the assessment escalates")
	cmd.Flags().String("patient", "", "Patient id (defaults to the signed-in account)")
	cmd.Flags().String("name", "", "Patient name")
	cmd.Flags().Int("age", 0, "Patient age")
	cmd.Flags().String("city", "", "Patient city")
	return cmd
}

// ---------------------------------------------------------------------------
// queue
// ---------------------------------------------------------------------------

// printQueue renders the active cases, newest first as returned.
func printQueue(w io.Writer, cases []*emergency.Emergency) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSEVERITY\tRISK\tPATIENT\tCITY\tCOMPLAINT")
	for _, c := range cases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			c.ID, c.Status, c.Severity, c.RiskScore, c.PatientName, c.City, c.Complaint)
	}
	tw.Flush()
	if len(cases) == 0 {
		fmt.Fprintln(w, "(no active emergencies)")
	}
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Watch the active emergency queue as a clinician",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			acceptID, _ := flags.GetString("accept")
			resolveID, _ := flags.GetString("resolve")
			once, _ := flags.GetBool("once")
			doctorID, _ := flags.GetString("doctor")

			ctx, cancel := signalContext()
			defer cancel()

			conn, err := connect(ctx, cfg, session.RoleDoctor, logger)
			if err != nil {
				return err
			}
			defer conn.logout()
			if doctorID == "" {
				doctorID = conn.identity.UID
			}

			out := cmd.OutOrStdout()
			manager := lifecycle.NewManager(conn.client, logger)
			// Seed the snapshot so local transition checks apply.
			active := manager.ListActive(ctx)

			switch {
			case acceptID != "":
				e, err := manager.Accept(ctx, acceptID, doctorID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "accepted %s (%s)\n", e.ID, e.Status)
				return nil
			case resolveID != "":
				e, err := manager.Resolve(ctx, resolveID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "resolved %s (%s)\n", e.ID, e.Status)
				return nil
			case once:
				printQueue(out, active)
				return nil
			}

			watcher := lifecycle.NewQueueWatcher(manager, cfg.QueuePollInterval, logger)
			watcher.Start(ctx, func(cases []*emergency.Emergency) {
				fmt.Fprintf(out, "\n%s\n", time.Now().Format("15:04:05"))
				printQueue(out, cases)
			})
			return nil
		},
	}
	cmd.Flags().String("accept", "", "Accept the emergency with this id")
	cmd.Flags().String("resolve", "", "Resolve the emergency with this id")
	cmd.Flags().String("doctor", "", "Clinician id (defaults to the signed-in account)")
	cmd.Flags().Bool("once", false, "Print the queue once and exit")
	return cmd
}

// ---------------------------------------------------------------------------
// chat
// ---------------------------------------------------------------------------

// transcript prints entries as the channel view grows.
type transcript struct {
	w    io.Writer
	mu   sync.Mutex
	seen int
}

func (t *transcript) update(entries []realtime.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(entries) < t.seen {
		t.seen = 0
	}
	for _, e := range entries[t.seen:] {
		fmt.Fprintf(t.w, "[%s] %s: %s\n", e.Timestamp.Local().Format("15:04"), e.Sender, e.Text)
	}
	t.seen = len(entries)
}

type chatInput struct {
	Role        session.Role
	EmergencyID string
	Who         realtime.Participants
	Mode        string
}

// runChat attaches a channel to the configured source and sends every line
// read from in until ctx ends, in is exhausted or the line "/quit" is read.
func runChat(ctx context.Context, cfg *config.Config, opts chatInput, backend realtime.MessageBackend, tokens client.TokenSource, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	src, err := realtime.NewSource(realtime.Options{
		Mode:         opts.Mode,
		Participants: opts.Who,
		EmergencyID:  opts.EmergencyID,
		Backend:      backend,
		PollInterval: cfg.ChatPollInterval,
		WSURL:        cfg.WSURL,
		Tokens:       tokens,
	}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := realtime.NewChannel(src, opts.Who.Self, logger)
	ch.OnChange((&transcript{w: out}).update)

	runErr := make(chan error, 1)
	go func() { runErr <- ch.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := ch.Send(ctx, line); err != nil {
				fmt.Fprintf(out, "(not delivered: %v)\n", err)
			}
		}
	}
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the other side of an emergency from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			as, _ := flags.GetString("as")
			role := session.Role(strings.ToLower(as))
			if !role.Valid() {
				return session.ErrInvalidRole
			}
			mode, _ := flags.GetString("source")
			if mode == "" {
				mode = cfg.MessageSource
			}
			in := chatInput{Role: role, Mode: mode, Who: realtime.Participants{Self: messaging.Sender(role)}}
			in.EmergencyID, _ = flags.GetString("emergency")
			in.Who.PatientID, _ = flags.GetString("patient")
			in.Who.DoctorID, _ = flags.GetString("doctor")
			in.Who.PatientName, _ = flags.GetString("patient-name")
			in.Who.DoctorName, _ = flags.GetString("doctor-name")

			ctx, cancel := signalContext()
			defer cancel()

			conn, err := connect(ctx, cfg, role, logger)
			if err != nil {
				var authErr *session.AuthorizationError
				if errors.As(err, &authErr) {
					fmt.Fprintln(cmd.ErrOrStderr(), authErr.Error())
				}
				return err
			}
			defer conn.logout()

			if role == session.RolePatient {
				if in.Who.PatientID == "" {
					in.Who.PatientID = conn.identity.UID
				}
				if in.Who.PatientName == "" {
					in.Who.PatientName = conn.identity.Name()
				}
			} else {
				if in.Who.DoctorID == "" {
					in.Who.DoctorID = conn.identity.UID
				}
				if in.Who.DoctorName == "" {
					in.Who.DoctorName = conn.identity.Name()
				}
			}

			return runChat(ctx, cfg, in, conn.client, conn.tokens, os.Stdin, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().String("as", string(session.RolePatient), "Local participant role (patient or doctor)")
	cmd.Flags().String("source", "", "Message source: poll or push (defaults to MESSAGE_SOURCE)")
	cmd.Flags().String("emergency", "", "Emergency id; selects the room for push mode")
	cmd.Flags().String("patient", "", "Patient id")
	cmd.Flags().String("doctor", "", "Clinician id")
	cmd.Flags().String("patient-name", "", "Patient display name")
	cmd.Flags().String("doctor-name", "", "Clinician display name")
	return cmd
}
