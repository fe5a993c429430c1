// Package ops surfaces failures that have no addressable Discord destination
// (bad source credentials, broadcast errors) to an operator-visible Slack
// channel, so they are never only buried in logs.
package ops

import (
	"os"

	"github.com/slack-go/slack"

	Logger "github.com/audiosutras/feedbot/utils/log"
)

type Alerter struct {
	webhookUrl string
}

// NewAlerterFromEnv builds an Alerter from SLACK_OPS_WEBHOOK. With the env
// unset the alerter degrades to log-only, which is the expected mode for
// self-hosted deployments.
func NewAlerterFromEnv() *Alerter {
	return &Alerter{webhookUrl: os.Getenv("SLACK_OPS_WEBHOOK")}
}

func (a *Alerter) Alert(message string) {
	Logger.Log.Errorln("operator alert: ", message)
	if a.webhookUrl == "" {
		return
	}
	err := slack.PostWebhook(a.webhookUrl, &slack.WebhookMessage{Text: message})
	if err != nil {
		Logger.Log.Errorf("fail to post operator alert to slack: %v", err)
	}
}
