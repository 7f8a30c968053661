package subaru

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// LoadConfig reads /etc/subaru.conf and merges SUBARU_* env overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	mergeEnvOverrides(cfg)

	// Ensure TMPDIR has a default
	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}

	return cfg, nil
}

// Merge SUBARU_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "SUBARU_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// InitConfig applies defaults and populates the path globals.
func InitConfig(cfg *Config) {
	rootDir = cfg.Values["SUBARU_ROOT"]
	if rootDir == "" {
		rootDir = "/mnt/subaru"
	}

	SourcesDir = cfg.Values["SUBARU_SOURCES"]
	if SourcesDir == "" {
		SourcesDir = filepath.Join(rootDir, "sources")
	}

	LogDir = cfg.Values["SUBARU_LOG_DIR"]
	if LogDir == "" {
		LogDir = "/var/log/subaru"
	}

	MarkerBase = filepath.Join(rootDir, "var/db/subaru/markers")

	tmpDir = cfg.Values["TMPDIR"]
	if tmpDir == "" {
		tmpDir = "/tmp"
	}

	diskDevice = cfg.Values["SUBARU_DISK"]
	rootPart = cfg.Values["SUBARU_ROOT_PART"]
	homePart = cfg.Values["SUBARU_HOME_PART"]
	swapPart = cfg.Values["SUBARU_SWAP_PART"]

	hostName = cfg.Values["SUBARU_HOSTNAME"]
	if hostName == "" {
		hostName = "subaru"
	}

	kernelVer = cfg.Values["SUBARU_KERNEL"]
	if kernelVer == "" {
		kernelVer = "6.12.9"
	}

	Debug = cfg.Values["SUBARU_DEBUG"] == "1"
	Verbose = cfg.Values["SUBARU_VERBOSE"] == "1"
	wantPkgMgr = cfg.Values["SUBARU_PKGMGR"] == "1"
}

// ValidateConfig rejects an unusable configuration before any phase may
// start. The three partition paths have no sane default and must be
// supplied by the operator.
func ValidateConfig(cfg *Config) error {
	var missing []string
	for _, key := range []string{"SUBARU_ROOT_PART", "SUBARU_HOME_PART", "SUBARU_SWAP_PART"} {
		if cfg.Values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("configuration error: %s must be set (no default)", strings.Join(missing, ", "))
	}
	return nil
}
