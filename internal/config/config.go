package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/yodahq/dropduplicates/internal/models"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/ini.v1"
)

// SectionMissingError is returned when a requested section is absent from a
// config file. Callers decide whether it is fatal: a missing connection
// section aborts the run, a missing table section only skips that table.
type SectionMissingError struct {
	File    string
	Section string
}

func (e *SectionMissingError) Error() string {
	return fmt.Sprintf("section %q not found in %s", e.Section, e.File)
}

// Conn holds the parameters for the analytical-database connection.
type Conn struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Email holds the mail and chat-webhook delivery parameters.
type Email struct {
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SenderEmail     string
	ReceiverEmail   string
	SlackWebhookURL string
}

// Loader reads sections from an ini-style file. It deliberately re-reads the
// file on every call: the source file is the single source of truth and a
// run must observe edits made between calls.
type Loader struct {
	path string
}

// NewLoader expands ~ in path and returns a loader for it.
func NewLoader(path string) (*Loader, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding config path %q: %w", path, err)
	}
	return &Loader{path: expanded}, nil
}

func (l *Loader) load() (*ini.File, error) {
	f, err := ini.Load(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", l.path, err)
	}
	return f, nil
}

// Section returns the key/value pairs of one named section.
func (l *Loader) Section(name string) (map[string]string, error) {
	f, err := l.load()
	if err != nil {
		return nil, err
	}
	if !f.HasSection(name) {
		return nil, &SectionMissingError{File: l.path, Section: name}
	}
	return f.Section(name).KeysHash(), nil
}

// SectionNames returns the names of all sections whose name starts with
// prefix, in file order.
func (l *Loader) SectionNames(prefix string) ([]string, error) {
	f, err := l.load()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range f.SectionStrings() {
		if s == ini.DefaultSection {
			continue
		}
		if strings.HasPrefix(s, prefix) {
			names = append(names, s)
		}
	}
	return names, nil
}

// Conn reads the database connection section. The DB_PASSWORD environment
// variable, when set, overrides the file value so the secret can stay out of
// the ini file.
func (l *Loader) Conn(section string) (Conn, error) {
	f, err := l.load()
	if err != nil {
		return Conn{}, err
	}
	if !f.HasSection(section) {
		return Conn{}, &SectionMissingError{File: l.path, Section: section}
	}
	s := f.Section(section)

	c := Conn{
		Host:     s.Key("host").String(),
		Port:     s.Key("port").MustInt(5439),
		Database: s.Key("database").String(),
		User:     s.Key("user").String(),
		Password: s.Key("password").String(),
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if c.Host == "" {
		return Conn{}, fmt.Errorf("section %q in %s: host is required", section, l.path)
	}
	return c, nil
}

// Table reads one table section into a TableConfig.
func (l *Loader) Table(section string) (models.TableConfig, error) {
	kv, err := l.Section(section)
	if err != nil {
		return models.TableConfig{}, err
	}

	t := models.TableConfig{
		Section:         section,
		Database:        kv["database"],
		Table:           kv["table"],
		UniqueKey:       kv["unique_key"],
		Host:            kv["host"],
		ReplicationTask: kv["replication_task"],
	}
	for field, v := range map[string]string{
		"database":   t.Database,
		"table":      t.Table,
		"unique_key": t.UniqueKey,
	} {
		if v == "" {
			return models.TableConfig{}, fmt.Errorf("section %q in %s: %s is required", section, l.path, field)
		}
	}
	return t, nil
}

// Email reads the email_config section of an email config file. The
// SMTP_PASSWORD environment variable, when set, overrides the file value.
func (l *Loader) Email(section string) (Email, error) {
	f, err := l.load()
	if err != nil {
		return Email{}, err
	}
	if !f.HasSection(section) {
		return Email{}, &SectionMissingError{File: l.path, Section: section}
	}
	s := f.Section(section)

	e := Email{
		SMTPHost:        s.Key("smtp_host").String(),
		SMTPPort:        s.Key("smtp_port").MustInt(465),
		SMTPUsername:    s.Key("smtp_username").String(),
		SMTPPassword:    s.Key("smtp_password").String(),
		SenderEmail:     s.Key("sender_email").String(),
		ReceiverEmail:   s.Key("receiver_email").String(),
		SlackWebhookURL: s.Key("slack_webhook_url").String(),
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		e.SMTPPassword = v
	}
	return e, nil
}
