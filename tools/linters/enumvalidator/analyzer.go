// Package enumvalidator reports string literals stored in enum-typed
// fields of the studio models.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "enumvalidator",
	Doc:  "checks that enum fields only use defined constants, not string literals",
	Run:  run,
}

var enumTypes = map[string]bool{
	"GenerationStatus": true,
	"Provider":         true,
	"MediaType":        true,
	"NotificationKind": true,
	"APIOperation":     true,
	"Category":         true,
}

func run(pass *analysis.Pass) (any, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			switch node := n.(type) {
			case *ast.AssignStmt:
				for i, lhs := range node.Lhs {
					if i >= len(node.Rhs) {
						continue
					}
					sel, ok := lhs.(*ast.SelectorExpr)
					if !ok || !isEnum(pass, sel) {
						continue
					}
					if isStringLiteral(node.Rhs[i]) {
						pass.Reportf(node.Pos(),
							"enum field %s assigned string literal; use defined constant instead",
							sel.Sel.Name)
					}
				}
			case *ast.CompositeLit:
				for _, elt := range node.Elts {
					kv, ok := elt.(*ast.KeyValueExpr)
					if !ok || !isStringLiteral(kv.Value) {
						continue
					}
					key, ok := kv.Key.(*ast.Ident)
					if !ok || !isEnum(pass, key) {
						continue
					}
					pass.Reportf(kv.Pos(),
						"enum field %s set to string literal; use defined constant instead",
						key.Name)
				}
			}
			return true
		})
	}
	return nil, nil
}

func isEnum(pass *analysis.Pass, expr ast.Expr) bool {
	t := pass.TypesInfo.TypeOf(expr)
	if t == nil {
		return false
	}
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	return ok && enumTypes[named.Obj().Name()]
}

func isStringLiteral(expr ast.Expr) bool {
	lit, ok := expr.(*ast.BasicLit)
	return ok && lit.Kind == token.STRING
}
