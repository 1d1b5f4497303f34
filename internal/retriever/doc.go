// Package retriever answers similarity queries over persisted memories.
//
// Retrieval is lexical: discovery text is tokenized with a locale-agnostic
// tokenizer, documents and queries become TF-IDF weight vectors, and
// candidates are scored by cosine similarity. Each subject's corpus is
// built from the durable store's recent memories and cached with a TTL;
// expiry and explicit invalidation rebuild lazily on the next query, so the
// component performs no background work.
//
// The retriever is an advisory accelerant: store failures and empty corpora
// both yield empty results, never errors.
package retriever
