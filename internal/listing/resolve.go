package listing

import "github.com/bina/bimsync/pkg/models"

// Resolve flattens the listing into work items: disciplines in Order, then
// each discipline's own order. Identical input yields identical output.
func Resolve(l *DisciplineListing) []models.WorkItem {
	var items []models.WorkItem
	for _, label := range Order {
		d, ok := l.Get(label)
		if !ok {
			continue
		}
		items = append(items, d.WorkItems(label)...)
	}
	return items
}

// CountFiles returns how many items carry a file to download.
func CountFiles(items []models.WorkItem) int {
	n := 0
	for _, it := range items {
		if it.Resolvable() {
			n++
		}
	}
	return n
}
