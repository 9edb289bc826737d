// Пакет version хранит сведения о сборке, заполняемые через -ldflags:
//
//	-X .../internal/version.version=v1.2.3
//	-X .../internal/version.commit=abc1234
//	-X .../internal/version.builtAt=2026-08-29T12:00:00Z
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	builtAt = "unknown"
)

// BuildInfo описывает собранный бинарник.
type BuildInfo struct {
	Version string
	Commit  string
	BuiltAt string
}

// Current возвращает сведения о текущей сборке.
func Current() BuildInfo {
	return BuildInfo{
		Version: version,
		Commit:  commit,
		BuiltAt: builtAt,
	}
}

// String форматирует сведения одной строкой для логов.
func (b BuildInfo) String() string {
	return fmt.Sprintf("version=%s commit=%s built_at=%s", b.Version, b.Commit, b.BuiltAt)
}
