package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const EnvPrefix = "REPORTACCESS_"

// EnvString reports whether key is set. A set but empty variable is an error:
// it is almost always a broken deployment file.
func EnvString(key string) (string, bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false, nil
	}
	if v == "" {
		return "", true, fmt.Errorf("env %s is empty", key)
	}
	return v, true, nil
}

func EnvInt(key string) (int, bool, error) {
	v, ok, err := EnvString(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("env %s invalid int: %w", key, err)
	}
	return n, true, nil
}

func EnvBool(key string) (bool, bool, error) {
	v, ok, err := EnvString(key)
	if err != nil || !ok {
		return false, ok, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, true, fmt.Errorf("env %s invalid bool: %w", key, err)
	}
	return b, true, nil
}

func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok, err := EnvString(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, true, fmt.Errorf("env %s invalid duration: %w", key, err)
	}
	return d, true, nil
}
