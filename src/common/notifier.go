package common

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"arts/src/config"
	"arts/src/lib"
	"arts/src/types"
)

// Notifier renders a named template against a context map and dispatches the
// result. Failures are ErrDelivery and non-fatal to every caller.
type Notifier interface {
	Notify(ctx context.Context, name string, tctx types.JSONB) error
}

type MailNotifier struct {
	cfg *config.Config
}

func NewMailNotifier(cfg *config.Config) *MailNotifier {
	return &MailNotifier{cfg: cfg}
}

// RenderTemplate loads dir/<name>.txt and substitutes the context values.
func RenderTemplate(dir, name string, tctx types.JSONB) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s.txt", name))
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return "", fmt.Errorf("failed to load template %s: %s", path, err.Error())
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(tctx)); err != nil {
		return "", fmt.Errorf("failed to render template %s: %s", name, err.Error())
	}
	return buf.String(), nil
}

func (n *MailNotifier) Notify(ctx context.Context, name string, tctx types.JSONB) error {
	to, _ := tctx["email"].(string)
	if to == "" {
		return fmt.Errorf("%w: no recipient in context", ErrDelivery)
	}
	body, err := RenderTemplate(n.cfg.TemplateDir, name, tctx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDelivery, err.Error())
	}
	subject := fmt.Sprintf("Archive request %v", tctx["id"])
	var attachments []lib.Attachment
	if url, _ := tctx["url"].(string); url != "" {
		attachments = append(attachments, lib.Attachment{
			Name: "citation.ris",
			Body: renderRIS(tctx),
		})
	}
	err = lib.SendMail(ctx, n.cfg, &lib.SendMailInput{
		From:        n.cfg.MailFrom,
		FromName:    n.cfg.MailFromName,
		To:          []string{to},
		ReplyTo:     n.cfg.MailReplyTo,
		Subject:     subject,
		Body:        body,
		Attachments: attachments,
	})
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDelivery, err.Error())
	}
	return nil
}

// renderRIS builds the citation record shipped with every mail about a
// requested page.
func renderRIS(tctx types.JSONB) []byte {
	var b strings.Builder
	b.WriteString("TY  - ICOMM\r\n")
	if title, _ := tctx["title"].(string); title != "" {
		fmt.Fprintf(&b, "TI  - %s\r\n", title)
	}
	fmt.Fprintf(&b, "UR  - %v\r\n", tctx["url"])
	fmt.Fprintf(&b, "DA  - %s\r\n", time.Now().Format("2006/01/02"))
	b.WriteString("ER  - \r\n")
	return []byte(b.String())
}
