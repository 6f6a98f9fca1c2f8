package sqlq

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

var scannerIface = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// planKey identifies a scan plan by destination struct type and the ordered
// column signature of the result set.
type planKey struct {
	dstType reflect.Type
	sig     string
}

// scanPlan records, per result column, the index path of the struct field it
// scans into; a nil path means the column has no matching field and is sunk.
type scanPlan struct {
	paths [][]int
}

var scanPlans, _ = lru.New[planKey, *scanPlan](defaultCacheSize)

// scanAll scans every row into dest, which must be a non-nil pointer to a
// slice of structs, of *struct, or of primitives (single-column results).
func scanAll(rows *sql.Rows, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("sqlq: dest must be a non-nil pointer to slice")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Slice {
		return fmt.Errorf("sqlq: dest must be a non-nil pointer to slice")
	}
	if rv.Len() != 0 {
		rv.Set(rv.Slice(0, 0))
	}

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	elemT := rv.Type().Elem()
	structT := elemT
	isPtr := elemT.Kind() == reflect.Pointer
	if isPtr {
		structT = elemT.Elem()
	}

	if structT.Kind() != reflect.Struct || structT.Implements(scannerIface) || reflect.PointerTo(structT).Implements(scannerIface) {
		// Primitive or Scanner elements: exactly one column.
		if len(cols) != 1 {
			return fmt.Errorf("sqlq: scan into %s requires 1 column, got %d", elemT, len(cols))
		}
		for rows.Next() {
			item := reflect.New(elemT).Elem()
			if err := rows.Scan(item.Addr().Interface()); err != nil {
				return err
			}
			rv.Set(reflect.Append(rv, item))
		}
		return rows.Err()
	}

	plan := getScanPlan(cols, structT)
	targets := make([]any, len(cols))

	for rows.Next() {
		ptr := reflect.New(structT)
		dst := ptr.Elem()
		for i := range cols {
			if plan.paths[i] == nil {
				targets[i] = new(any) // sink
				continue
			}
			targets[i] = fieldByIndexAlloc(dst, plan.paths[i]).Addr().Interface()
		}
		if err := rows.Scan(targets...); err != nil {
			return err
		}
		if isPtr {
			rv.Set(reflect.Append(rv, ptr))
		} else {
			rv.Set(reflect.Append(rv, dst))
		}
	}
	return rows.Err()
}

// getScanPlan returns the cached plan for (cols, structT), building it on a miss.
func getScanPlan(cols []string, structT reflect.Type) *scanPlan {
	key := planKey{dstType: structT, sig: strings.Join(cols, "\x1f")}
	if p, ok := scanPlans.Get(key); ok {
		return p
	}
	fmap := fieldIndexMap(structT)
	p := &scanPlan{paths: make([][]int, len(cols))}
	for i, col := range cols {
		if path, ok := fmap[col]; ok {
			p.paths[i] = path
		}
	}
	scanPlans.Add(key, p)
	return p
}

// fieldIndexMap maps column names to field index paths for structT, honoring
// `db` tags, skipping unexported and `db:"-"` fields, and flattening nested
// structs (time.Time and sql.Scanner types stay leaves). On a name collision
// the first field found wins.
func fieldIndexMap(structT reflect.Type) map[string][]int {
	m := make(map[string][]int, structT.NumField())
	visited := map[reflect.Type]bool{}

	var walk func(rt reflect.Type, path []int)
	walk = func(rt reflect.Type, path []int) {
		for rt.Kind() == reflect.Pointer {
			rt = rt.Elem()
		}
		if rt.Kind() != reflect.Struct || visited[rt] {
			return
		}
		visited[rt] = true
		defer delete(visited, rt)

		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "-" {
				continue
			}
			name := f.Name
			if tag != "" {
				name = strings.Split(tag, ",")[0]
			}

			if shouldFlatten(f.Type) {
				walk(f.Type, appendIndex(path, i))
				continue
			}
			if _, exists := m[name]; !exists {
				m[name] = appendIndex(path, i)
			}
		}
	}

	walk(structT, nil)
	return m
}

// shouldFlatten reports whether ft is a nested struct to descend into.
func shouldFlatten(ft reflect.Type) bool {
	if ft.Implements(scannerIface) || reflect.PointerTo(ft).Implements(scannerIface) {
		return false
	}
	tt := ft
	if tt.Kind() == reflect.Pointer {
		tt = tt.Elem()
	}
	if tt.Kind() != reflect.Struct {
		return false
	}
	if tt == reflect.TypeOf(time.Time{}) {
		return false
	}
	return true
}

// appendIndex returns a new index path with idx appended.
func appendIndex(path []int, idx int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = idx
	return out
}

// fieldByIndexAlloc walks a struct by index path, allocating intermediate
// nil pointers on the way down.
func fieldByIndexAlloc(root reflect.Value, path []int) reflect.Value {
	v := root
	for i, idx := range path {
		f := v.Field(idx)
		if i == len(path)-1 {
			return f
		}
		if f.Kind() == reflect.Pointer {
			if f.IsNil() {
				f.Set(reflect.New(f.Type().Elem()))
			}
			v = f.Elem()
		} else {
			v = f
		}
	}
	return v
}
