package sqldsl

// JSON builders over SQLite's json1 functions.
//
// Values produced by json_object, json_array and json() carry the JSON
// subtype only while they stay inside one expression. Once a value crosses a
// subquery boundary it is plain text again and must be re-wrapped with JSON()
// before it is embedded in another object, otherwise it is encoded as a
// string.

// JSONPair is one key/value argument of json_object.
type JSONPair struct {
	Key   string
	Value Expr
}

// JSONObject renders json_object('k1', v1, 'k2', v2, ...).
type JSONObject struct {
	Pairs []JSONPair
}

// SQL renders the object constructor.
func (o JSONObject) SQL() string {
	args := make([]Expr, 0, len(o.Pairs)*2)
	for _, p := range o.Pairs {
		args = append(args, Lit(p.Key), p.Value)
	}
	return Func{Name: "json_object", Args: args}.SQL()
}

// JSONArray renders json_array(v1, v2, ...).
func JSONArray(values ...Expr) Func {
	return Func{Name: "json_array", Args: values}
}

// JSONGroupArray renders the json_group_array aggregate. It yields '[]'
// over zero rows.
func JSONGroupArray(value Expr) Func {
	return Func{Name: "json_group_array", Args: []Expr{value}}
}

// JSON renders json(x), which validates x and marks it as JSON so the
// enclosing constructor embeds it instead of quoting it.
func JSON(value Expr) Func {
	return Func{Name: "json", Args: []Expr{value}}
}

// JSONBool converts a 0/1 integer column into a JSON boolean. NULL and any
// other value map to JSON null.
func JSONBool(value Expr) Func {
	return JSON(CaseExpr{
		Operand: value,
		Whens: []CaseWhen{
			{Cond: Int(1), Result: Lit("true")},
			{Cond: Int(0), Result: Lit("false")},
		},
	})
}

// JSONStrings renders a literal JSON array of strings, e.g. json_array('a', 'b').
func JSONStrings(values []string) Func {
	args := make([]Expr, len(values))
	for i, v := range values {
		args[i] = Lit(v)
	}
	return JSONArray(args...)
}
