package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt/internal/client"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handshake"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/session"
	"github.com/stemsi/exstem-attempt/internal/viewport"
	"golang.org/x/term"
)

func newTakeCmd(cfg *config.Config) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "take <test-id>",
		Short: "Start or resume an attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(cfg); err != nil {
				return err
			}
			testID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid test id: %w", err)
			}
			mode := model.StartModeFresh
			if resume {
				mode = model.StartModeResume
			}
			return take(cmd.Context(), cfg, testID, mode, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "continue the open attempt instead of starting a new one")
	return cmd
}

// announcer prints where the viewport must be opened each time it reloads.
type announcer struct {
	*viewport.Host
	out io.Writer
}

func (a announcer) Load(token string) error {
	if err := a.Host.Load(token); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n[mô phỏng] mở %s\n", a.Host.LoadURL(token))
	return nil
}

type spinner struct{ out io.Writer }

func (s spinner) SetLoading(loading bool) {
	if loading {
		fmt.Fprintln(s.out, "[mô phỏng] đang tải...")
		return
	}
	fmt.Fprintln(s.out, "[mô phỏng] sẵn sàng")
}

func take(parent context.Context, cfg *config.Config, testID uuid.UUID, mode model.StartMode, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := newLogger(cfg)
	api := client.New(cfg.APIBaseURL, cfg.StudentToken, cfg.HTTPTimeout, log)

	// ─── Viewport ──────────────────────────────────────────────────────
	host := viewport.NewHost(viewport.Config{
		URL:            cfg.Handshake.ViewportURL,
		AllowedOrigins: []string{cfg.Handshake.ViewportOrigin},
	}, log)
	defer host.Close()

	coord := handshake.NewCoordinator(announcer{Host: host, out: out}, handshake.Policy{
		Origin:         cfg.Handshake.ViewportOrigin,
		MaxRedelivery:  cfg.Handshake.MaxRedelivery,
		RetryInterval:  cfg.Handshake.RetryInterval,
		SpinnerTimeout: cfg.Handshake.SpinnerTimeout,
	}, handshake.Options{Indicator: spinner{out: out}, Logger: log})
	defer coord.Close()
	host.OnLoaded(coord.Loaded)
	go coord.Run(ctx, host.Inbound())

	srv := viewportServer(cfg.Handshake.ListenAddr, host)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Viewport endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Viewport endpoint failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// ─── Session ───────────────────────────────────────────────────────
	ctrl, err := session.Open(ctx, api, testID, session.Options{
		TickInterval:     cfg.Session.TickInterval,
		AutosaveInterval: cfg.Session.AutosaveInterval,
		Observer:         coord,
		Logger:           log,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Start(ctx, mode); err != nil {
		if session.IsAttemptLimit(err) || session.IsExpired(err) {
			fmt.Fprintln(out, err.Error())
			return nil
		}
		return err
	}
	coord.Open()

	r := &repl{ctrl: ctrl, coord: coord, out: out, log: log, interactive: isTerminal(in)}
	r.render()
	runErr := r.run(ctx, in)

	if ctrl.Status() == session.StatusInProgress {
		// Interrupted or stdin closed: save what we have before leaving.
		done := ctrl.Unload(context.Background())
		select {
		case <-done:
		case <-time.After(cfg.Session.UnloadGrace):
			log.Warn().Msg("Unload autosave still running at exit")
		}
		fmt.Fprintln(out, "\nĐã lưu bài làm. Dùng --resume để tiếp tục.")
	}
	return runErr
}

func viewportServer(addr string, host http.Handler) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/viewport", gin.WrapH(host))
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type repl struct {
	ctrl        *session.Controller
	coord       *handshake.Coordinator
	out         io.Writer
	log         zerolog.Logger
	interactive bool
	retryShown  bool
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
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

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	r.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(r.out, err)
			} else if quit := r.exec(ctx, cmd); quit {
				return nil
			}
			if r.ctrl.Status() == session.StatusSubmitted {
				r.renderResult()
				return nil
			}
			r.prompt()
		case <-ticker.C:
			if r.ctrl.Status() == session.StatusSubmitted {
				r.renderResult()
				return nil
			}
			if v := r.ctrl.View(); v.SubmitPending && !r.retryShown {
				// Timeout submission failed; stay here until the student retries.
				r.retryShown = true
				fmt.Fprintf(r.out, "\nHết giờ nhưng nộp bài thất bại: %v\nGõ \"submit\" để thử lại.\n", v.SubmitError)
				r.prompt()
			}
		}
	}
}

func (r *repl) prompt() {
	if !r.interactive {
		return
	}
	v := r.ctrl.View()
	fmt.Fprintf(r.out, "[%s %d/%d] > ", formatClock(v.RemainingSeconds), v.ActiveIndex+1, v.QuestionCount)
}

func (r *repl) exec(ctx context.Context, c command) (quit bool) {
	q, _ := r.ctrl.ActiveQuestion()
	v := r.ctrl.View()

	var err error
	switch c.op {
	case opShow:
	case opNext:
		_, err = r.ctrl.Navigate(v.ActiveIndex + 1)
	case opPrev:
		_, err = r.ctrl.Navigate(v.ActiveIndex - 1)
	case opGoto:
		_, err = r.ctrl.Navigate(c.n - 1)
	case opChoose:
		err = r.choose(q, model.ChoiceID(c.n))
	case opText:
		err = r.ctrl.SetAnswer(q.ID, model.TextAnswer{Text: c.text})
	case opClear:
		err = r.ctrl.ClearAnswer(q.ID)
	case opSave:
		var t *session.Ticket
		t, err = r.ctrl.Autosave(ctx, session.TriggerManual)
		if err == nil {
			r.renderTicket(t)
			return false
		}
	case opHide:
		_, err = r.ctrl.Hidden(ctx)
	case opOpen:
		if !q.HasSimulation() {
			fmt.Fprintln(r.out, "Câu này không có mô phỏng.")
			return false
		}
		r.coord.Open()
	case opReload:
		r.coord.Reload()
	case opSubmit:
		if v.SubmitPending {
			_, err = r.ctrl.RetrySubmit(ctx)
		} else {
			_, err = r.ctrl.Submit(ctx, session.SubmitManual)
		}
		if err != nil {
			fmt.Fprintf(r.out, "Nộp bài thất bại: %v\nGõ \"submit\" để thử lại.\n", err)
		}
		return false
	case opQuit:
		return true
	case opHelp:
		fmt.Fprint(r.out, helpText)
		return false
	}
	if err != nil {
		fmt.Fprintln(r.out, err)
		return false
	}
	r.render()
	return false
}

// choose selects id on single-answer questions and toggles it on multi-answer ones.
func (r *repl) choose(q model.Question, id model.ChoiceID) error {
	kind, err := model.AnswerKindFor(q.Type)
	if err != nil {
		return err
	}
	if kind == model.AnswerKindMulti {
		return r.ctrl.ToggleChoice(q.ID, id)
	}
	return r.ctrl.SetAnswer(q.ID, model.Select(id))
}

func (r *repl) render() {
	q, ok := r.ctrl.ActiveQuestion()
	if !ok {
		return
	}
	a, _ := r.ctrl.Answer(q.ID)
	renderQuestion(r.out, r.ctrl.View(), q, a)
}

func (r *repl) renderTicket(t *session.Ticket) {
	switch t.Outcome {
	case session.OutcomeSuccess:
		fmt.Fprintf(r.out, "Đã lưu (#%d).\n", t.Seq)
	case session.OutcomeFailure:
		fmt.Fprintf(r.out, "Lưu thất bại (#%d): %v\n", t.Seq, t.Err)
	default:
		fmt.Fprintf(r.out, "Lưu: %s\n", t.Outcome)
	}
}

func (r *repl) renderResult() {
	v := r.ctrl.View()
	fmt.Fprintln(r.out, "\nĐã nộp bài.")
	if v.Score != nil {
		fmt.Fprintf(r.out, "Điểm: %.2f\n", *v.Score)
	}
}
