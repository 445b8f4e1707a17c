// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package params

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the locked-memory limit below which seed buffers may
// not be pinned.
const MinMlockLimitKB = 64

var (
	secureMemOnce   sync.Once
	mlockSufficient bool
	mlockLimitKB    int64
)

// SecureMemoryStatus reports whether the process mlock limit is large enough
// for locked seed buffers, and the limit in KB (-1 if unlimited or unknown).
func SecureMemoryStatus() (bool, int64) {
	initSecureMemory(slog.Default())
	return mlockSufficient, mlockLimitKB
}

func initSecureMemory(logger *slog.Logger) {
	secureMemOnce.Do(func() {
		mlockSufficient, mlockLimitKB = checkMlockLimit(logger)
		if !mlockSufficient {
			logger.Warn("mlock limit insufficient; seed buffers may be swappable",
				slog.Int64("current_limit_kb", mlockLimitKB),
				slog.Int("required_kb", MinMlockLimitKB))
		}
	})
}

func checkMlockLimit(logger *slog.Logger) (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		logger.Warn("could not determine mlock limit", slog.String("error", err.Error()))
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}
