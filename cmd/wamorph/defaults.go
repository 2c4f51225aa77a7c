package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// LLM
	viper.SetDefault("llm.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.chat_model", "gpt-4o-mini")
	viper.SetDefault("llm.vision_model", "gpt-4o")
	viper.SetDefault("llm.system_prompt", "")
	viper.SetDefault("stt.model", "whisper-1")

	// Gateway
	viper.SetDefault("gateway.host", "https://api.green-api.com")
	viper.SetDefault("gateway.instance_id", "")
	viper.SetDefault("gateway.token", "")
	viper.SetDefault("gateway.timeout", 15*time.Second)
	viper.SetDefault("gateway.send_rate", 1.0)
	viper.SetDefault("gateway.send_burst", 3)

	// Redis
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Relational store (chat settings, blocklist).
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.auto_migrate", true)

	// Intake
	viper.SetDefault("idempotency.ttl", 24*time.Hour)
	viper.SetDefault("ratelimit.window", time.Minute)
	viper.SetDefault("ratelimit.threshold", 30)
	viper.SetDefault("ratelimit.notify", false)
	viper.SetDefault("history.limit", 30)
	viper.SetDefault("history.ttl", 24*time.Hour)
	viper.SetDefault("summary.message_count", 50)
	viper.SetDefault("summary.min_messages", 5)
	viper.SetDefault("bot.nickname", "")
	viper.SetDefault("voice.reply_with_transcript", false)

	// Web search and image generation
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("draw.enhance", true)
	viper.SetDefault("draw.model", "flux")
	viper.SetDefault("draw.width", 1024)
	viper.SetDefault("draw.height", 1024)

	// Workers
	viper.SetDefault("workers.max_in_flight", 8)
	viper.SetDefault("workers.queue_size", 32)

	// HTTP server
	viper.SetDefault("server.bind", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
}
