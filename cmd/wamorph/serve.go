package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/wamorph/gateway"
	"github.com/quailyquaily/wamorph/internal/commands"
	"github.com/quailyquaily/wamorph/internal/history"
	"github.com/quailyquaily/wamorph/internal/idempotency"
	"github.com/quailyquaily/wamorph/internal/imagegen"
	"github.com/quailyquaily/wamorph/internal/kvstore"
	"github.com/quailyquaily/wamorph/internal/logutil"
	"github.com/quailyquaily/wamorph/internal/pipeline"
	"github.com/quailyquaily/wamorph/internal/ratelimit"
	"github.com/quailyquaily/wamorph/internal/search"
	"github.com/quailyquaily/wamorph/internal/webhook"
	"github.com/quailyquaily/wamorph/providers/openai"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and message workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, err := gateway.New(gateway.Config{
				Host:       viper.GetString("gateway.host"),
				InstanceID: viper.GetString("gateway.instance_id"),
				Token:      viper.GetString("gateway.token"),
				Timeout:    viper.GetDuration("gateway.timeout"),
				SendRate:   viper.GetFloat64("gateway.send_rate"),
				SendBurst:  viper.GetInt("gateway.send_burst"),
			}, logger)
			if err != nil {
				return err
			}

			kv, err := kvstore.NewRedis(kvstore.RedisOptions{
				Addr:     viper.GetString("redis.addr"),
				Password: viper.GetString("redis.password"),
				DB:       viper.GetInt("redis.db"),
			})
			if err != nil {
				return err
			}

			st, err := settingsFromViper()
			if err != nil {
				return err
			}

			provider := openai.New(openai.Config{
				BaseURL:  viper.GetString("llm.endpoint"),
				APIKey:   viper.GetString("llm.api_key"),
				STTModel: viper.GetString("stt.model"),
			})

			dedup, err := idempotency.New(kv, viper.GetDuration("idempotency.ttl"))
			if err != nil {
				return err
			}
			limiter, err := ratelimit.New(kv, viper.GetDuration("ratelimit.window"), viper.GetInt("ratelimit.threshold"))
			if err != nil {
				return err
			}
			hist, err := history.New(history.Options{
				KV:    kv,
				Limit: viper.GetInt("history.limit"),
				TTL:   viper.GetDuration("history.ttl"),
			})
			if err != nil {
				return err
			}

			chatModel := viper.GetString("llm.chat_model")
			searcher, err := search.New(search.Options{
				LLM:        provider,
				Model:      chatModel,
				MaxResults: viper.GetInt("search.max_results"),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			imageGen, err := imagegen.New(imagegen.Options{
				LLM:      provider,
				LLMModel: chatModel,
				Enhance:  viper.GetBool("draw.enhance"),
				Model:    viper.GetString("draw.model"),
				Width:    viper.GetInt("draw.width"),
				Height:   viper.GetInt("draw.height"),
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			reg, err := commands.NewRegistry(commands.RegistryOptions{
				History:  hist,
				Settings: st,
				Summarizer: &pipeline.LLMSummarizer{
					Client: provider,
					Model:  chatModel,
				},
				ChatLog: &pipeline.GatewayChatLog{
					Source:      gw,
					Transcriber: provider,
					BotName:     viper.GetString("bot.nickname"),
					Logger:      logger,
				},
				Searcher:            searcher,
				ImageGen:            imageGen,
				Files:               gw,
				Nickname:            viper.GetString("bot.nickname"),
				SummaryMessageCount: viper.GetInt("summary.message_count"),
				SummaryMinMessages:  viper.GetInt("summary.min_messages"),
			})
			if err != nil {
				return err
			}

			pipe, err := pipeline.New(pipeline.Options{
				Dedup:       dedup,
				Rate:        limiter,
				History:     hist,
				Settings:    st,
				Gateway:     gw,
				LLM:         provider,
				Transcriber: provider,
				Commands:    reg,
				Config: pipeline.Config{
					Nickname:       viper.GetString("bot.nickname"),
					SystemPrompt:   viper.GetString("llm.system_prompt"),
					ChatModel:      chatModel,
					VisionModel:    viper.GetString("llm.vision_model"),
					NotifyThrottle: viper.GetBool("ratelimit.notify"),
					EchoTranscript: viper.GetBool("voice.reply_with_transcript"),
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}

			dispatcher, err := pipeline.NewDispatcher(ctx, pipeline.DispatcherOptions{
				Pipeline:    pipe,
				MaxInFlight: viper.GetInt("workers.max_in_flight"),
				QueueSize:   viper.GetInt("workers.queue_size"),
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			srv, err := webhook.New(webhook.Options{
				Dispatcher: dispatcher,
				KV:         kv,
				DB:         st,
				Gateway:    gw,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			bind := strings.TrimSpace(viper.GetString("server.bind"))
			if bind == "" {
				bind = "0.0.0.0"
			}
			port := viper.GetInt("server.port")
			if port <= 0 {
				port = 8080
			}
			addr := net.JoinHostPort(bind, strconv.Itoa(port))
			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server_started", "addr", addr)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			logger.Info("server_stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server_shutdown_error", "error", err.Error())
			}
			dispatcher.Wait(shutdownCtx)
			return nil
		},
	}
	return cmd
}
