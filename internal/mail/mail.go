// Package mail はSMTP経由のメール送信を提供する。
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inbucket/html2text"
	gomail "github.com/wneessen/go-mail"
)

// Config はSMTP接続設定。
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Attachment は添付ファイル。
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message は送信するメール。Text が空の場合は HTML から生成する。
type Message struct {
	To          []string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPSender は go-mail のクライアントで送信する Sender。
type SMTPSender struct {
	from   string
	client *gomail.Client
}

// NewSMTPSender はSMTPSenderを生成する。ユーザー名が空の場合は認証なしで接続する。
func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("SMTP host is required")
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return &SMTPSender{from: cfg.From, client: client}, nil
}

// Send はメッセージを組み立てて送信する。
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	m, err := Build(s.from, msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	slog.Info("メールを送信",
		slog.Int("recipients", len(msg.To)),
		slog.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

// Build は go-mail のメッセージを組み立てる。本文はHTMLとテキストの multipart/alternative。
func Build(from string, msg *Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(msg.Subject)

	text := msg.Text
	if text == "" && msg.HTML != "" {
		converted, err := HTMLToText(msg.HTML)
		if err != nil {
			return nil, err
		}
		text = converted
	}

	if msg.HTML != "" {
		m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
		m.AddAlternativeString(gomail.TypeTextPlain, text)
	} else {
		m.SetBodyString(gomail.TypeTextPlain, text)
	}

	for _, a := range msg.Attachments {
		opts := []gomail.FileOption{gomail.WithFileEncoding(gomail.EncodingB64)}
		if a.ContentType != "" {
			opts = append(opts, gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		}
		if err := m.AttachReader(a.Name, bytes.NewReader(a.Data), opts...); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", a.Name, err)
		}
	}
	return m, nil
}

// HTMLToText はHTML本文からテキスト版を生成する。
func HTMLToText(html string) (string, error) {
	text, err := html2text.FromString(html, html2text.Options{
		PrettyTables: true,
		OmitLinks:    false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to text: %w", err)
	}
	return text, nil
}

var _ Sender = (*SMTPSender)(nil)
