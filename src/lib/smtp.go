package lib

import (
	"bytes"
	"context"
	"log"

	"arts/src/config"

	"github.com/wneessen/go-mail"
)

var smtpClient *mail.Client

func GetSMTPClient(cfg *config.Config) (*mail.Client, error) {
	if smtpClient != nil {
		return smtpClient, nil
	}
	pass := cfg.SMTPPassword
	if cfg.SMTPPasswordSecret != "" {
		secret, err := AWSGetSecretString(context.Background(), cfg.SMTPPasswordSecret)
		if err != nil {
			log.Printf("Error retrieving SMTP password secret: %s\n", err.Error())
			return nil, err
		}
		pass = secret
	}
	c, err := mail.NewClient(
		cfg.SMTPHost,
		mail.WithPort(cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.SMTPUsername),
		mail.WithPassword(pass),
	)
	if err != nil {
		log.Printf("Could not initialize smtp client: %s\n", err.Error())
		return nil, err
	}
	smtpClient = c
	return c, nil
}

// NewSMTPClient replaces the package instance, used by tests.
func NewSMTPClient(c *mail.Client) {
	smtpClient = c
}

type Attachment struct {
	Name string
	Body []byte
}

type SendMailInput struct {
	From        string
	FromName    string
	To          []string
	ReplyTo     string
	Subject     string
	Body        string
	Attachments []Attachment
}

func SendMail(ctx context.Context, cfg *config.Config, input *SendMailInput) error {
	c, err := GetSMTPClient(cfg)
	if err != nil {
		return err
	}
	msg := mail.NewMsg()
	if err := msg.FromFormat(input.FromName, input.From); err != nil {
		log.Printf("Failed to set From address: %s\n", err.Error())
	}
	if err := msg.To(input.To...); err != nil {
		log.Printf("Failed to set To address: %s\n", err.Error())
	}
	if input.ReplyTo != "" {
		if err := msg.ReplyTo(input.ReplyTo); err != nil {
			log.Printf("Failed to set Reply-To address: %s\n", err.Error())
		}
	}
	msg.Subject(input.Subject)
	msg.SetBodyString(mail.TypeTextPlain, input.Body)
	for _, a := range input.Attachments {
		if err := msg.AttachReader(a.Name, bytes.NewReader(a.Body)); err != nil {
			log.Printf("Failed to attach %s: %s\n", a.Name, err.Error())
		}
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return err
	}
	return nil
}
