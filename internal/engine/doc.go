// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine provides the inference engine contract and the HTTP client
// for a locally hosted, Ollama-compatible model server.
//
// # Key Types
//
//   - Engine: the narrow contract the orchestrator consumes (load, streaming
//     chat generation, dispose)
//   - Client: HTTP implementation of Engine
//   - Chunk: one streamed fragment of a generation
//   - ClientError: typed error with categories and sentinel values
//
// # Usage
//
//	client := engine.NewClient(nil)
//	if err := client.LoadModel(ctx, "qwen2.5:7b", 8, 8192); err != nil {
//	    // model stays unloaded, state unchanged
//	}
//	err := client.GenerateChat(ctx, messages, 1024, 0.8, func(c engine.Chunk) {
//	    // called in stream order
//	})
package engine
