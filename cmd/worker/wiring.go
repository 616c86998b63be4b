package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/httpretry"
	"github.com/ignite/lifecycle-engine/internal/sender"
	"github.com/ignite/lifecycle-engine/internal/service/nudge"
)

// buildSender registers every configured channel. Delivered keys are
// cached in Redis when a client is available.
func buildSender(ctx context.Context, cfg config.SenderConfig, rdb *redis.Client) (sender.Sender, error) {
	router := sender.NewRouter()

	if cfg.DryRun {
		router.Register(domain.ChannelEmail, sender.LogSender{})
		router.Register(domain.ChannelWebhook, sender.LogSender{})
		log.Println("Sender: dry run, messages are logged only")
		return router, nil
	}

	if cfg.SES.Enabled {
		ses, err := sender.NewSESSender(ctx, sender.SESConfig{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			FromEmail:        cfg.SES.FromEmail,
			FromName:         cfg.SES.FromName,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, err
		}
		router.Register(domain.ChannelEmail, ses)
		log.Printf("Sender: SES email channel (%s)", cfg.SES.Region)
	}

	if cfg.Webhook.URL != "" {
		client := httpretry.NewRetryClient(&http.Client{Timeout: cfg.Webhook.Timeout()}, cfg.Webhook.MaxRetries)
		hook := sender.NewWebhookSender(cfg.Webhook.URL, client)
		hook.SetSecret(cfg.Webhook.Secret)
		router.Register(domain.ChannelWebhook, hook)
		if !cfg.SES.Enabled {
			router.Register(domain.ChannelEmail, hook)
		}
		log.Println("Sender: webhook channel")
	}

	if len(router.Channels()) == 0 {
		return nil, fmt.Errorf("no delivery channel configured (set sender.ses, sender.webhook or sender.dry_run)")
	}
	if rdb != nil {
		return sender.NewReceiptCache(router, rdb, cfg.ReceiptTTL.D()), nil
	}
	return router, nil
}

// nudgeRules converts configured overrides. An empty list keeps the
// built-in table.
func nudgeRules(cfgs []config.RuleConfig) []nudge.Rule {
	if len(cfgs) == 0 {
		return nudge.DefaultRules()
	}
	rules := make([]nudge.Rule, 0, len(cfgs))
	for _, c := range cfgs {
		rules = append(rules, nudge.Rule{
			ID:                c.ID,
			Condition:         nudge.Condition(c.Condition),
			MinElapsed:        c.MinElapsed.D(),
			Within:            c.Within.D(),
			ProgressThreshold: c.ProgressThreshold,
			Priority:          c.Priority,
			Cooldown:          c.Cooldown.D(),
			Subject:           c.Subject,
			Template:          c.Template,
		})
	}
	return rules
}
