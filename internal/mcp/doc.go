// Package mcp exposes the ragd engine as MCP tools over the
// github.com/modelcontextprotocol/go-sdk/mcp server.
//
// Tools:
//
//	rag_ask            answer one question within a session
//	rag_synthesize     decompose a question and answer each part
//	rag_expand         show the sub-queries or paraphrases for a query
//	rag_retrieve       fused passages for one or more queries
//	rag_collections    list collections with passage counts
//	rag_session_reset  clear a session's history
package mcp
