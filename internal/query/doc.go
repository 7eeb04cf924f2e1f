// Package query provides the document-store predicate IR and its compiler to
// parameterised SQL.
//
// Predicates are a sealed sum type so the compiler can switch over them
// exhaustively. Field names are checked against the target table's column
// list; values are always bound as parameters, never interpolated.
//
// Every compiled query carries an ORDER BY with a binary-collated tiebreaker
// so identical stores return identical result order.
package query
