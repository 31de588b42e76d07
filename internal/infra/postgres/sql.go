package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v4"

	"retreat-quiz/internal/remote"
)

var castTypes = map[remote.ColumnType]string{
	remote.ColumnText:   "text",
	remote.ColumnInt:    "integer",
	remote.ColumnBigInt: "bigint",
	remote.ColumnBool:   "boolean",
	remote.ColumnTime:   "timestamptz",
	remote.ColumnJSON:   "jsonb",
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// placeholder renders $n cast from text to the column type.
func placeholder(n int, t remote.ColumnType) string {
	return fmt.Sprintf("$%d::text::%s", n, castTypes[t])
}

// upsertSQL builds an INSERT for the schema columns present in row. With update
// set, an existing key is overwritten; otherwise the insert is skipped and no row
// comes back. Every value travels as text and is cast to its column type.
func upsertSQL(table remote.Table, row remote.Row, update bool) (string, []any, error) {
	cols, err := remote.Columns(table)
	if err != nil {
		return "", nil, err
	}
	key, _ := remote.NaturalKey(table)
	if _, err := remote.KeyOf(table, row); err != nil {
		return "", nil, err
	}
	isKey := make(map[string]bool, len(key))
	quotedKey := make([]string, 0, len(key))
	for _, k := range key {
		isKey[k] = true
		quotedKey = append(quotedKey, ident(k))
	}

	var (
		names  []string
		values []string
		sets   []string
		args   []any
	)
	for _, c := range cols {
		v, ok := row[c.Name]
		if !ok {
			continue
		}
		arg, err := textArg(c.Type, v)
		if err != nil {
			return "", nil, fmt.Errorf("%s.%s: %w", table, c.Name, err)
		}
		args = append(args, arg)
		names = append(names, ident(c.Name))
		values = append(values, placeholder(len(args), c.Type))
		if !isKey[c.Name] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident(c.Name), ident(c.Name)))
		}
	}

	conflict := "DO NOTHING"
	if update {
		if len(sets) == 0 {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quotedKey[0], quotedKey[0]))
		}
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	q := fmt.Sprintf(
		`WITH written AS (INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s RETURNING *) SELECT row_to_json(written)::text FROM written`,
		ident(string(table)),
		strings.Join(names, ", "),
		strings.Join(values, ", "),
		strings.Join(quotedKey, ", "),
		conflict,
	)
	return q, args, nil
}

// selectSQL builds an equality-filtered SELECT ordered by natural key.
func selectSQL(table remote.Table, match remote.Row) (string, []any, error) {
	cols, err := remote.Columns(table)
	if err != nil {
		return "", nil, err
	}
	key, _ := remote.NaturalKey(table)

	types := make(map[string]remote.ColumnType, len(cols))
	for _, c := range cols {
		types[c.Name] = c.Type
	}

	var (
		where []string
		args  []any
	)
	for _, c := range cols {
		v, ok := match[c.Name]
		if !ok {
			continue
		}
		if v == nil {
			where = append(where, ident(c.Name)+" IS NULL")
			continue
		}
		arg, err := textArg(c.Type, v)
		if err != nil {
			return "", nil, fmt.Errorf("%s.%s: %w", table, c.Name, err)
		}
		args = append(args, arg)
		where = append(where, fmt.Sprintf("%s = %s", ident(c.Name), placeholder(len(args), c.Type)))
	}
	for name := range match {
		if _, ok := types[name]; !ok {
			// a column outside the schema matches nothing
			where = append(where, "false")
			break
		}
	}

	order := make([]string, 0, len(key))
	for _, k := range key {
		order = append(order, ident(k))
	}

	q := fmt.Sprintf("SELECT row_to_json(t)::text FROM %s t", ident(string(table)))
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + strings.Join(order, ", ")
	return q, args, nil
}

// textArg renders a value as the text form of its column type; nil stays NULL.
func textArg(t remote.ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t == remote.ColumnJSON {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case json.Number:
		return x.String(), nil
	}
	return nil, fmt.Errorf("unsupported value %T", v)
}
