package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *SyncdConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.Token == "" {
		return errors.New("api.token is required")
	}

	if len(c.Accounts) == 0 {
		return errors.New("at least one account is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.ID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if seen[acct.ID] {
			return fmt.Errorf("accounts[%d].id %q is duplicated", i, acct.ID)
		}
		seen[acct.ID] = true

		if len(acct.Regions) == 0 {
			return fmt.Errorf("accounts[%d].regions is required", i)
		}
		primaryListed := false
		for region, id := range acct.Regions {
			if region == "" {
				return fmt.Errorf("accounts[%d].regions has an empty region name", i)
			}
			if id == "" {
				return fmt.Errorf("accounts[%d].regions[%s] must name an account id", i, region)
			}
			if id == acct.ID {
				primaryListed = true
			}
		}
		if !primaryListed {
			return fmt.Errorf("accounts[%d].regions must include the primary id %q", i, acct.ID)
		}
	}

	if c.Journal.Enabled {
		if err := c.Journal.Postgres.validate("journal.postgres"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.Presence.Enabled {
		if c.Presence.Redis.Addr == "" {
			return errors.New("presence.redis.addr is required")
		}
		if c.Presence.RefreshInterval >= c.Presence.TTL {
			return fmt.Errorf("presence.refresh_interval (%s) must be shorter than ttl (%s)",
				c.Presence.RefreshInterval, c.Presence.TTL)
		}
	}

	if c.Watch.Enabled && c.Watch.Concurrency < 1 {
		return errors.New("watch.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}
	if c.Health.Port == c.Metrics.Port {
		return fmt.Errorf("health.port and metrics.port cannot both be %d", c.Health.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
