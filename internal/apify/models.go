package apify

// itemsPage is one page of a dataset items listing. Items are kept as
// raw maps; the normalizer owns all interpretation of their shape.
type itemsPage struct {
	Items []map[string]any
}
