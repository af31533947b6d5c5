package embedding

import "strings"

// TaskTypesFor returns the GenAI task types used for queries and for ingested
// documents. Retrieval tasks are asymmetric; every other task embeds both sides
// the same way.
func TaskTypesFor(configured string) (query, document string) {
	switch strings.ToUpper(strings.TrimSpace(configured)) {
	case "", "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT":
		return "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT"
	case "CODE_RETRIEVAL_QUERY":
		return "CODE_RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT"
	case "QUESTION_ANSWERING":
		return "QUESTION_ANSWERING", "RETRIEVAL_DOCUMENT"
	case "FACT_VERIFICATION":
		return "FACT_VERIFICATION", "RETRIEVAL_DOCUMENT"
	case "CLASSIFICATION":
		return "CLASSIFICATION", "CLASSIFICATION"
	case "CLUSTERING":
		return "CLUSTERING", "CLUSTERING"
	default:
		return "SEMANTIC_SIMILARITY", "SEMANTIC_SIMILARITY"
	}
}
