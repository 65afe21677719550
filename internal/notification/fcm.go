// Package notification sends Firebase Cloud Messaging pushes to holder
// devices.
package notification

import (
	"context"
	"encoding/base64"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config selects the Firebase credential source. Base64 takes precedence
// over the file path; with neither set the sender is disabled.
type Config struct {
	CredentialsBase64 string
	CredentialsFile   string
}

// Sender wraps the FCM messaging client.
type Sender struct {
	client *messaging.Client
	logger *zap.Logger
}

// New initializes the Firebase app and messaging client. Returns (nil, nil)
// when no credentials are configured, which disables push entirely.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sender, error) {
	var opts []option.ClientOption

	switch {
	case cfg.CredentialsBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(cfg.CredentialsBase64)
		if err != nil {
			return nil, fmt.Errorf("decode firebase credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(decoded))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, nil
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize messaging client: %w", err)
	}

	return &Sender{client: client, logger: logger}, nil
}

// Push sends a single notification to the device token.
func (s *Sender) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				ChannelID: "settlement_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: title,
						Body:  body,
					},
					Sound: "default",
				},
			},
		},
	}

	id, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("send fcm message: %w", err)
	}

	s.logger.Debug("fcm message sent", zap.String("messageID", id))
	return nil
}
