package hleruntime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/errors"
)

func hex(addr uint32) string { return fmt.Sprintf("0x%08x", addr) }

// fault reports err and applies the fault policy. A fault that unwinds
// through several traps is reported once, by the innermost.
func (e *Environment) fault(err *errors.Error) error {
	if err == e.reported {
		return err
	}
	e.reported = err

	policy := e.cfg.Faults.Policy
	e.log.Error("guest fault", append(faultFields(err), zap.String("policy", string(policy)))...)

	if dir := e.cfg.Faults.CrashDir; dir != "" {
		path, werr := e.CrashReport(err).WriteFile(dir)
		if werr != nil {
			e.log.Error("crash report not written", zap.String("dir", dir), zap.Error(werr))
		} else {
			e.log.Info("crash report written", zap.String("path", path))
		}
	}

	if policy == PolicyAbort {
		_ = e.log.Sync()
		e.exit(AbortExitCode)
	}
	return err
}
