package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

type MailService struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	SiteURL  string
	Enabled  bool
}

var mailService *MailService

// GetMailService returns the singleton mail service.
func GetMailService() *MailService {
	if mailService == nil {
		mailService = NewMailService()
	}
	return mailService
}

func NewMailService() *MailService {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	siteURL := os.Getenv("SITE_URL")
	if siteURL == "" {
		siteURL = "http://localhost:8080"
	}

	enabled := host != "" && port != "" && user != "" && pass != "" && from != ""
	if !enabled {
		logrus.Warn("MailService disabled: missing SMTP environment variables")
	}

	return &MailService{
		Host:     host,
		Port:     port,
		Username: user,
		Password: pass,
		From:     from,
		SiteURL:  siteURL,
		Enabled:  enabled,
	}
}

func (s *MailService) sendAsync(to []string, subject string, body string) {
	if !s.Enabled {
		return
	}

	go func() {
		auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
		addr := fmt.Sprintf("%s:%s", s.Host, s.Port)

		mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
		msg := []byte(fmt.Sprintf("To: %s\r\n"+
			"From: Crowdlink <%s>\r\n"+
			"Subject: %s\r\n"+
			"%s\r\n%s", strings.Join(to, ","), s.From, subject, mime, body))

		err := smtp.SendMail(addr, auth, s.From, to, msg)
		if err != nil {
			logrus.WithError(err).WithField("to", to).Error("Failed to send email")
		} else {
			logrus.WithField("to", to).Infof("Email sent: %s", subject)
		}
	}()
}

func (s *MailService) parseTemplate(templateName string, data interface{}) (string, error) {
	path := filepath.Join("web", "templates", "email", templateName)
	t, err := template.ParseFiles(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", templateName, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", templateName, err)
	}
	return buf.String(), nil
}

// SendConfirmEmail delivers the address-verification link for a freshly
// registered email address.
func (s *MailService) SendConfirmEmail(email, username, code string) {
	body, err := s.parseTemplate("confirm.html", map[string]string{
		"Username": username,
		"Code":     code,
		"Email":    email,
		"SiteURL":  s.SiteURL,
	})
	if err != nil {
		logrus.WithError(err).Error("Error rendering confirm email")
		return
	}
	s.sendAsync([]string{email}, "Confirm your email address on Crowdlink", body)
}

// SendRecoveryEmail delivers the password recovery link.
func (s *MailService) SendRecoveryEmail(email, username, code string) {
	body, err := s.parseTemplate("recovery.html", map[string]string{
		"Username": username,
		"Code":     code,
		"SiteURL":  s.SiteURL,
	})
	if err != nil {
		logrus.WithError(err).Error("Error rendering recovery email")
		return
	}
	s.sendAsync([]string{email}, "Recover your Crowdlink password", body)
}

// SendTestEmail verifies the SMTP configuration end to end.
func (s *MailService) SendTestEmail(email string) {
	body, err := s.parseTemplate("test.html", map[string]string{
		"Email": email,
	})
	if err != nil {
		logrus.WithError(err).Error("Error rendering test email")
		return
	}
	s.sendAsync([]string{email}, "Admin test email from Crowdlink", body)
}
