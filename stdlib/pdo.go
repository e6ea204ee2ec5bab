package stdlib

import (
	"github.com/wudi/heyvm/heap"
	"github.com/wudi/heyvm/pkg/pdo"
	"github.com/wudi/heyvm/registry"
	"github.com/wudi/heyvm/values"
)

// PDO connections live in the heap as resource values:
// pdo_connect hands back an opaque handle, every
// other pdo_* builtin takes that handle as its first argument rather than
// participating in the object/method dispatch path, since the PDO class
// itself is out of scope — only its query surface is wired here to
// exercise the driver stack.
func connResource(v *values.Value) (pdo.Conn, bool) {
	r := v.ResourceData()
	if r == nil || r.Kind != "pdo_connection" {
		return nil, false
	}
	conn, ok := r.Handle.(pdo.Conn)
	return conn, ok
}

// rowsToArray drains a result set into a list of associative arrays.
// FetchAssoc advances the cursor itself and reports exhaustion as a nil
// row, so this must not call Next around it.
func rowsToArray(rows pdo.Rows) (*values.Value, error) {
	out := values.NewArray()
	defer rows.Close()
	for {
		row, err := rows.FetchAssoc()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		rowArr := values.NewArray()
		for col, val := range row {
			key := values.NewString(col)
			rowArr.ArraySet(key, val)
			key.Release(heap.Active())
			val.Release(heap.Active())
		}
		out.ArrayAppend(rowArr)
		rowArr.Release(heap.Active())
	}
	return out, rows.Err()
}

func init() {
	define("pdo_connect", 1, 3, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		dsn, err := pdo.ParseDSN(args[0].ToString())
		if err != nil {
			return values.NewBool(false), nil
		}
		driver, ok := pdo.GetDriver(dsn.Driver)
		if !ok {
			return values.NewBool(false), nil
		}
		conn, err := driver.Open(args[0].ToString())
		if err != nil {
			return values.NewBool(false), nil
		}
		username := ""
		if len(args) > 1 {
			username = args[1].ToString()
		}
		password := ""
		if len(args) > 2 {
			password = args[2].ToString()
		}
		if err := conn.Connect(username, password); err != nil {
			_ = conn.Close()
			return values.NewBool(false), nil
		}
		res := values.NewResource("pdo_connection", conn, conn.Close)
		return res, nil
	})

	define("pdo_query", 2, 2, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		conn, ok := connResource(args[0])
		if !ok {
			return values.NewBool(false), nil
		}
		rows, err := conn.Query(args[1].ToString())
		if err != nil {
			return values.NewBool(false), nil
		}
		result, err := rowsToArray(rows)
		if err != nil {
			return values.NewBool(false), nil
		}
		return result, nil
	})

	define("pdo_exec", 2, 2, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		conn, ok := connResource(args[0])
		if !ok {
			return values.NewBool(false), nil
		}
		result, err := conn.Exec(args[1].ToString())
		if err != nil {
			return values.NewBool(false), nil
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return values.NewBool(false), nil
		}
		return values.NewInt(affected), nil
	})

	define("pdo_last_insert_id", 1, 1, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		conn, ok := connResource(args[0])
		if !ok {
			return values.NewBool(false), nil
		}
		id, err := conn.LastInsertId()
		if err != nil {
			return values.NewBool(false), nil
		}
		return values.NewInt(id), nil
	})

	define("pdo_close", 1, 1, func(_ registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
		conn, ok := connResource(args[0])
		if !ok {
			return values.NewBool(false), nil
		}
		if err := conn.Close(); err != nil {
			return values.NewBool(false), nil
		}
		return values.NewBool(true), nil
	})
}
