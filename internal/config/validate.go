package config

import (
	"fmt"
	"strings"
)

// Role names the binary a configuration is validated for.
type Role string

const (
	RoleUploader   Role = "uploader"
	RoleWorker     Role = "worker"
	RoleDispatcher Role = "dispatcher"
	RoleServer     Role = "server"
)

const (
	TargetClova  = "clova"
	TargetCloud  = "cloud"
	TargetGemini = "gemini"
)

// Error is a deployment problem detected before any I/O.
// It is kept distinct from runtime failures so operators can tell a missing
// secret from a provider outage.
type Error struct {
	Role    Role
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing env: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, "; "))
	}
	return fmt.Sprintf("%s configuration error: %s", e.Role, strings.Join(parts, "; "))
}

// Validate checks that everything the given role needs is present.
// Returns nil or a *Error.
func (c *Config) Validate(role Role) error {
	e := &Error{Role: role}

	switch role {
	case RoleUploader:
		c.validateStorage(e)
	case RoleWorker:
		c.validateStorage(e)
		switch c.Target {
		case TargetClova:
			require(e, "NAVER_CLOVA_INVOKE_URL", c.Clova.InvokeURL)
			require(e, "NAVER_CLOVA_SECRET_KEY", c.Clova.SecretKey)
			if c.Completion != "sync" && c.Completion != "async" {
				e.Invalid = append(e.Invalid, fmt.Sprintf("STT_COMPLETION=%q (want sync or async)", c.Completion))
			}
		case TargetCloud:
			require(e, "STT_START_URL", c.StartURL)
			require(e, "CLOUD_STT_BUCKET", c.Cloud.Bucket)
			require(e, "CLOUD_STT_ACCESS_KEY", c.Cloud.AccessKey)
			require(e, "CLOUD_STT_SECRET_KEY", c.Cloud.SecretKey)
		case TargetGemini:
			require(e, "GEMINI_API_KEY", c.Gemini.APIKey)
		default:
			e.Invalid = append(e.Invalid, fmt.Sprintf("STT_TARGET=%q (want clova, cloud or gemini)", c.Target))
		}
	case RoleDispatcher:
		require(e, "STT_WORKER_BIN", c.Dispatcher.WorkerBin)
		if c.Dispatcher.Concurrency < 1 {
			e.Invalid = append(e.Invalid, "STT_WORKER_CONCURRENCY must be >= 1")
		}
		if c.Dispatcher.QueueSize < 0 {
			e.Invalid = append(e.Invalid, "STT_WORKER_QUEUE must be >= 0")
		}
	case RoleServer:
		require(e, "DATABASE_URL", c.DatabaseURL)
		if !c.Cloud.Enabled() && !c.Clova.Enabled() && !c.Gemini.Enabled() {
			e.Missing = append(e.Missing, "one of CLOUD_STT_*, NAVER_CLOVA_*, GEMINI_API_KEY")
		}
	}

	if len(e.Missing) == 0 && len(e.Invalid) == 0 {
		return nil
	}
	return e
}

func (c *Config) validateStorage(e *Error) {
	require(e, "SUPABASE_STT_BUCKET", c.Storage.Bucket)
	switch c.Storage.Backend {
	case "supabase":
		require(e, "SUPABASE_URL", c.Storage.SupabaseURL)
		require(e, "SUPABASE_SERVICE_ROLE_KEY", c.Storage.SupabaseServiceKey)
	case "s3":
		require(e, "S3_ACCESS_KEY", c.Storage.S3AccessKey)
		require(e, "S3_SECRET_KEY", c.Storage.S3SecretKey)
	case "local":
		require(e, "LOCAL_STORAGE_DIR", c.Storage.LocalDir)
	default:
		e.Invalid = append(e.Invalid, fmt.Sprintf("STORAGE_BACKEND=%q (want supabase, s3 or local)", c.Storage.Backend))
	}
}

func require(e *Error, name, value string) {
	if strings.TrimSpace(value) == "" {
		e.Missing = append(e.Missing, name)
	}
}
