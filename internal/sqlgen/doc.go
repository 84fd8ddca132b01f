// Package sqlgen generates SQLite statement batches for validated queries
// and mutations.
//
// # Overview
//
// Generate turns one schema.Operation into an ordered list of Statements.
// The caller runs them inside one transaction, binding $name parameters
// with sql.Named and session fields as $session_<field>.
//
// # Architecture
//
// The generator operates in three phases, like the rest of the SQL tooling:
//
//  1. Plan: walk the selections, assign table aliases and capture keys,
//     order nested inserts so referenced rows exist before their referrers
//  2. Blocks: build typed sqldsl expressions for JSON shaping, @where
//     conditions and permission predicates
//  3. Render: produce the Statement list with roles and parameter names
//
// # Batch Shape
//
// Queries produce one RoleResponse statement per top-level field. Each
// returns a single row with a single column named after the field, holding
// a JSON array built with json_object and json_group_array.
//
// Mutations produce, in order:
//
//   - RoleSetup: temp tables _loam_ids (capture key, rowid) and
//     _loam_snapshots, cleared for this batch
//   - RoleDML: the writes plus the statements that capture row identity
//   - RoleResponse: the mutated rows shaped like a query response
//   - RoleAffectedRows: one _affectedRows column with the storage-level
//     rows grouped by table, consumed by the sync delta engine
//
// Inserts capture identity with last_insert_rowid() right after each
// single-row INSERT, keyed by the selection path ("user", "user.posts").
// Updates and deletes capture matching rowids first and then act on
// exactly those rows. Deletes snapshot their response and affected rows
// before the DELETE runs.
//
// # Permissions
//
// The query predicate of every table in a selection is ANDed into its
// WHERE clause, including nested links. Insert, update and delete
// predicates gate the corresponding writes.
package sqlgen
