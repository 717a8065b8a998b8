// Command evaluate uploads an answer sheet to a prepmint API and follows the
// evaluation job until it finishes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/evaluation"
	"github.com/noah-isme/prepmint-api/pkg/config"
	"github.com/noah-isme/prepmint-api/pkg/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred cleanup happens before exit.
func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	flags := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	server := flags.String("server", fmt.Sprintf("http://localhost:%d%s", cfg.Port, cfg.APIPrefix), "API base URL")
	token := flags.String("token", os.Getenv("PREPMINT_TOKEN"), "bearer token")
	path := flags.String("file", "", "answer sheet to upload")
	userID := flags.String("user", "", "user the evaluation belongs to")
	testID := flags.String("test", "", "test being answered")
	interval := flags.Duration("interval", cfg.Evaluations.PollInterval, "status poll interval")
	timeout := flags.Duration("timeout", cfg.Evaluations.PollTimeout, "give up polling after")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *path == "" || *userID == "" {
		flags.Usage()
		return 2
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return 1
	}
	defer logr.Sync() //nolint:errcheck

	rules := evaluation.DefaultRules().Restrict(cfg.Evaluations.AllowedMIMEs)
	rules.MaxSize = cfg.Evaluations.MaxFileSizeBytes

	file, err := localFile(*path, rules)
	if err != nil {
		logr.Error("cannot read file", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := evaluation.NewHTTPClient(*server, *token, nil, logr.Named("client"))
	workflow := evaluation.New(client, client, evaluation.Config{
		Rules:             rules,
		PollInterval:      *interval,
		PollTimeout:       *timeout,
		CompletionPoints:  cfg.Gamification.CompletionPoints,
		PerfectScoreBonus: cfg.Gamification.PerfectScoreBonus,
	}, evaluation.WithLogger(logr.Named("workflow")), evaluation.WithListener(func(s evaluation.Snapshot) {
		fields := []zap.Field{zap.String("phase", string(s.Phase))}
		if s.JobID != "" {
			fields = append(fields, zap.String("job_id", s.JobID))
		}
		if s.Progress != nil {
			fields = append(fields, zap.Int("progress", *s.Progress))
		}
		logr.Info("evaluation", fields...)
	}))
	defer workflow.Close() //nolint:errcheck

	if err := workflow.SelectFile(file); err != nil {
		logr.Error("file rejected", zap.String("reason", workflow.Snapshot().RejectReason))
		return 1
	}
	if err := workflow.Submit(ctx, *userID, *testID); err != nil {
		logr.Error("upload failed", zap.String("message", workflow.Snapshot().ErrorMessage), zap.Error(err))
		return 1
	}

	snap, err := workflow.Wait(ctx)
	if err != nil {
		logr.Warn("stopped waiting, the job keeps running on the server", zap.String("job_id", snap.JobID))
		return 0
	}
	switch snap.Phase {
	case evaluation.PhaseDone:
		score := 0.0
		if snap.Result != nil {
			score = snap.Result.Score
		}
		logr.Info("evaluation finished", zap.String("job_id", snap.JobID), zap.Float64("score", score))
		return 0
	default:
		logr.Error("evaluation failed", zap.String("job_id", snap.JobID), zap.String("message", snap.ErrorMessage))
		return 1
	}
}

func localFile(path string, rules evaluation.Rules) (evaluation.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return evaluation.File{}, err
	}
	return evaluation.File{
		FileInfo: evaluation.FileInfo{
			Name:     filepath.Base(path),
			Size:     info.Size(),
			MimeType: mimeByExtension(rules, path),
		},
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// mimeByExtension maps the file extension back to an allowed type; unknown
// extensions yield an empty type, which the rules reject.
func mimeByExtension(rules evaluation.Rules, path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	for mimeType, exts := range rules.Types {
		for _, candidate := range exts {
			if candidate == ext {
				return mimeType
			}
		}
	}
	return ""
}
