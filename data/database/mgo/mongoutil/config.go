package mongoutil

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"dmchat/tools/errs"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
	defaultRetryWait   = 500 * time.Millisecond
)

// Config describes how to reach the message database. Uri wins over Address.
type Config struct {
	Uri         string
	Address     []string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
	MaxRetry    int
	RetryWait   time.Duration
}

// ValidateAndSetDefaults 校验并补默认值，Uri 为空时由 Address 拼出
func (c *Config) ValidateAndSetDefaults() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.New("mongo: either uri or address must be provided").Wrap()
	}
	if c.Database == "" {
		return errs.New("mongo: database is required").Wrap()
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.RetryWait <= 0 {
		c.RetryWait = defaultRetryWait
	}
	if c.Uri == "" {
		c.Uri = c.uri()
	}
	return nil
}

// uri builds a connection string for Address; authSource defaults to the database.
func (c *Config) uri() string {
	var creds string
	if c.Username != "" && c.Password != "" {
		creds = url.QueryEscape(c.Username) + ":" + url.QueryEscape(c.Password) + "@"
	}
	authSource := c.AuthSource
	if authSource == "" {
		authSource = c.Database
	}
	return fmt.Sprintf("mongodb://%s%s/%s?authSource=%s&maxPoolSize=%d",
		creds, strings.Join(c.Address, ","), c.Database, authSource, c.MaxPoolSize)
}
