package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/db"
	"github.com/xxxsen/kbchat/internal/handler"
	"github.com/xxxsen/kbchat/internal/job"
	"github.com/xxxsen/kbchat/internal/metrics"
	"github.com/xxxsen/kbchat/internal/middleware"
	"github.com/xxxsen/kbchat/internal/schedule"
	"github.com/xxxsen/kbchat/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "kbchat",
		Short: "knowledge base chat and document bridge",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (KBCHAT_* env overrides apply)")

	lambdaCmd := &cobra.Command{
		Use:   "lambda",
		Short: "serve API Gateway proxy events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(context.Background(), cfg, log)
			if err != nil {
				return err
			}
			log.Info("lambda handler starting", zap.String("region", cfg.Region))
			lambda.Start(a.router.HandleLambda)
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg, log)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "create the audit tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			conn, driver, err := openDatabase(cfg)(ctx)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			if err := db.ApplyMigrations(conn, driver); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			log.Info("migrations applied", zap.String("driver", driver))
			return nil
		},
	}

	var inputPath string
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "run a single-turn generation from a JSON request file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(configPath)
			if err != nil {
				return err
			}
			return runGenerate(cmd, cfg, inputPath)
		},
	}
	generateCmd.Flags().StringVar(&inputPath, "input", "", "path to the generation request (- for stdin)")

	reapCmd := &cobra.Command{
		Use:   "reap",
		Short: "mark abandoned pending queries once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(context.Background(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			maxAge := time.Duration(cfg.Reaper.MaxAgeSeconds) * time.Second
			return schedule.RunOnce(context.Background(), log, job.NewStaleQueryReaperJob(a.audit, maxAge))
		},
	}

	rootCmd.AddCommand(lambdaCmd, serveCmd, migrateCmd, generateCmd, reapCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		cfg.LogConfig.FileCount,
		cfg.LogConfig.FileSize,
		cfg.LogConfig.KeepDays,
		cfg.LogConfig.Console,
	)
	metrics.Init()
	log := logutil.GetLogger(context.Background())
	log.Info("config loaded", zap.String("config", configPath))
	return cfg, log, nil
}

func runServer(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Reaper.Enabled {
		scheduler := schedule.NewCronScheduler(log)
		maxAge := time.Duration(cfg.Reaper.MaxAgeSeconds) * time.Second
		if err := scheduler.AddJob(job.NewStaleQueryReaperJob(a.audit, maxAge), cfg.Reaper.Spec); err != nil {
			return err
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	middlewares := []gin.HandlerFunc{
		middleware.CORS(),
		middleware.RequestID(),
	}
	if cfg.RateLimitMs > 0 {
		middlewares = append(middlewares, middleware.RateLimit(time.Duration(cfg.RateLimitMs)*time.Millisecond))
	}
	middlewares = append(middlewares, gzip.Gzip(gzip.DefaultCompression))

	engine, err := webapi.NewEngine(
		"",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, a.router, map[string]gin.HandlerFunc{
				"/metrics": metrics.Handler(),
			})
		}),
		webapi.WithExtraMiddlewares(middlewares...),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	log.Info("http server listening",
		zap.String("addr", addr),
		zap.String("file_store", cfg.FileStore.Type),
		zap.Bool("reaper", cfg.Reaper.Enabled),
	)

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("server stopping...")
	return nil
}

func runGenerate(cmd *cobra.Command, cfg *config.Config, inputPath string) error {
	var (
		raw []byte
		err error
	)
	switch inputPath {
	case "":
		return fmt.Errorf("--input is required")
	case "-":
		raw, err = io.ReadAll(cmd.InOrStdin())
	default:
		raw, err = os.ReadFile(inputPath)
	}
	if err != nil {
		return fmt.Errorf("read generation request: %w", err)
	}
	var req service.GenerateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode generation request: %w", err)
	}

	log := logutil.GetLogger(context.Background())
	a, err := newApp(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.rag.AnswerSingleTurn(context.Background(), req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
