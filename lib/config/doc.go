// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the boardhost configuration file.
//
// The file is named by the --config flag or, failing that, the
// BOARDHOST_CONFIG environment variable. There is no search path and
// no environment override of individual values. Files ending in .json
// or .jsonc may carry comments and trailing commas; everything else is
// parsed as YAML.
//
// Paths may reference ${HOME}, ${BOARDHOST_STATE} (the resolved
// storage.path), or any environment variable, with ${VAR:-default}
// fallbacks.
package config
