// Package typology models hierarchical annotation typologies: ordered
// forests of categories uploaded as nested JSON, stored as parent-linked
// rows, and flattened into the selectable label list.
package typology

import "github.com/google/uuid"

// Typology is the hierarchical upload format.
type Typology struct {
	Version     string     `json:"version,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Copyright   string     `json:"copyright,omitempty"`
	Categories  []Category `json:"categories"`
}

// Category is one node of the forest. A node with no subcategories is a
// leaf, representing a concretely selectable annotation type.
type Category struct {
	ID            string     `json:"id,omitempty"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Level         int        `json:"level,omitempty"`
	Mnemonic      string     `json:"mnemonic,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Examples      []any      `json:"examples,omitempty"`
	Subcategories []Category `json:"subcategories,omitempty"`
}

// Row is the parent-linked storage shape of a category node. Sibling order
// is preserved through SortOrder.
type Row struct {
	ID          string
	TypeID      string
	ParentID    *string
	Title       string
	Description string
	Meta        map[string]any
	SortOrder   int
}

// FlattenLeaves returns the leaf categories of the forest in depth-first
// pre-order, so sibling and nesting order in the source is preserved.
// Leaves without an identifier are skipped rather than failing the
// traversal.
func FlattenLeaves(forest []Category) []Category {
	leaves := make([]Category, 0)
	var walk func(nodes []Category)
	walk = func(nodes []Category) {
		for _, node := range nodes {
			if len(node.Subcategories) == 0 {
				if node.ID != "" {
					leaves = append(leaves, node)
				}
				continue
			}
			walk(node.Subcategories)
		}
	}
	walk(forest)
	return leaves
}

// FlattenTree decomposes a category forest into storage rows under the
// given annotation type. newID mints row identifiers; pass nil for random
// UUIDs. Category extras (source id, mnemonic, notes, examples, level) ride
// along in Meta so BuildTree can reconstruct the upload.
func FlattenTree(forest []Category, typeID string, newID func() string) []Row {
	if newID == nil {
		newID = uuid.NewString
	}
	rows := make([]Row, 0)
	var walk func(nodes []Category, parentID *string)
	walk = func(nodes []Category, parentID *string) {
		for order, node := range nodes {
			row := Row{
				ID:          newID(),
				TypeID:      typeID,
				ParentID:    parentID,
				Title:       node.Name,
				Description: node.Description,
				Meta:        categoryMeta(node),
				SortOrder:   order,
			}
			rows = append(rows, row)
			if len(node.Subcategories) > 0 {
				parent := row.ID
				walk(node.Subcategories, &parent)
			}
		}
	}
	walk(forest, nil)
	return rows
}

// BuildTree reconstructs the ordered forest from storage rows. Rows whose
// parent is missing are treated as roots so a partially deleted typology
// still renders.
func BuildTree(rows []Row) []Category {
	children := make(map[string][]Row)
	ids := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		ids[row.ID] = struct{}{}
	}

	var roots []Row
	for _, row := range rows {
		if row.ParentID == nil {
			roots = append(roots, row)
			continue
		}
		if _, ok := ids[*row.ParentID]; !ok {
			roots = append(roots, row)
			continue
		}
		children[*row.ParentID] = append(children[*row.ParentID], row)
	}

	var build func(rows []Row) []Category
	build = func(rows []Row) []Category {
		nodes := make([]Category, 0, len(rows))
		for _, row := range rows {
			node := categoryFromRow(row)
			node.Subcategories = build(children[row.ID])
			nodes = append(nodes, node)
		}
		return nodes
	}
	return build(roots)
}

func categoryMeta(node Category) map[string]any {
	meta := make(map[string]any)
	if node.ID != "" {
		meta["source_id"] = node.ID
	}
	if node.Mnemonic != "" {
		meta["mnemonic"] = node.Mnemonic
	}
	if node.Notes != "" {
		meta["notes"] = node.Notes
	}
	if len(node.Examples) > 0 {
		meta["examples"] = node.Examples
	}
	if node.Level != 0 {
		meta["level"] = node.Level
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func categoryFromRow(row Row) Category {
	node := Category{
		ID:          row.ID,
		Name:        row.Title,
		Description: row.Description,
	}
	if row.Meta == nil {
		return node
	}
	if v, ok := row.Meta["mnemonic"].(string); ok {
		node.Mnemonic = v
	}
	if v, ok := row.Meta["notes"].(string); ok {
		node.Notes = v
	}
	if v, ok := row.Meta["examples"].([]any); ok {
		node.Examples = v
	}
	switch v := row.Meta["level"].(type) {
	case int:
		node.Level = v
	case float64:
		node.Level = int(v)
	}
	return node
}
