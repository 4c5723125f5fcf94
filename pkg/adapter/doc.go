// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package adapter bridges the platform-agnostic message model to the QQ
// official-bot protocol: account lifecycle, inbound event normalization,
// outbound encoding with plain, templated-markdown and raw-markdown
// strategies, media preparation, interactive-button callbacks and webhook
// signature validation.
package adapter
