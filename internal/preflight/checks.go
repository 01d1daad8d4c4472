package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const pingTimeout = 5 * time.Second

// CheckDatabase verifies the job store answers queries.
func CheckDatabase(ctx context.Context, driver string, db Pinger) Result {
	const name = "Database"
	driver = strings.TrimSpace(driver)
	if driver == "" {
		driver = "sqlite"
	}
	if err := ping(ctx, db); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", driver, summarizeError(err, "database"))}
	}
	return Result{Name: name, Passed: true, Detail: driver + " (reachable)"}
}

// CheckRemote verifies the remote stage worker answers HTTP.
func CheckRemote(ctx context.Context, baseURL string, worker Pinger) Result {
	const name = "Remote worker"
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}
	if err := ping(ctx, worker); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", base, summarizeError(err, "remote worker"))}
	}
	return Result{Name: name, Passed: true, Detail: base + " (reachable)"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func ping(ctx context.Context, target Pinger) error {
	if target == nil {
		return errors.New("not configured")
	}
	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return target.Ping(checkCtx)
}

// summarizeError produces a human-readable summary for ping failures.
func summarizeError(err error, what string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("health check timed out (%s unresponsive)", what)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("health check timed out (%s unreachable)", what)
	}
	return err.Error()
}
