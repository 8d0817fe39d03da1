package model

// Query selects documents of one collection. Only the path matters to the
// pending-write queue; CollectionGroup marks queries across all collections
// sharing an id, which the queue cannot answer.
type Query struct {
	Path            ResourcePath
	CollectionGroup string
}

// QueryAtPath returns a query over the collection (or document) at path.
func QueryAtPath(path ResourcePath) Query {
	return Query{Path: path}
}

func (q Query) IsCollectionGroupQuery() bool { return q.CollectionGroup != "" }

// IsDocumentQuery reports whether the query addresses a single document.
func (q Query) IsDocumentQuery() bool {
	return !q.IsCollectionGroupQuery() && !q.Path.IsEmpty() && q.Path.Len()%2 == 0
}
