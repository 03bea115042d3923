package extract

import (
	"github.com/GhrammR/the-janitor/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

// extractJSEntities emits entities for top-level function and class
// declarations, class methods, top-level lexical bindings, and exported
// names. Default exports are tagged distinctly from named exports.
func extractJSEntities(result *parser.ParseResult) []Entity {
	var entities []Entity
	source := result.Source

	makeEntity := func(span *sitter.Node, name string, kind Kind, parentClass string) Entity {
		qualified := name
		if parentClass != "" {
			qualified = parentClass + "." + name
		}
		fullText := parser.GetNodeText(span, source)
		e := Entity{
			Name:           name,
			Kind:           kind,
			FilePath:       result.Path,
			StartByte:      span.StartByte(),
			SpanStartByte:  span.StartByte(),
			EndByte:        span.EndByte(),
			StartLine:      span.StartPoint().Row + 1,
			EndLine:        span.EndPoint().Row + 1,
			QualifiedName:  qualified,
			ParentClass:    parentClass,
			FullText:       fullText,
			StructuralHash: structuralHash(fullText),
		}
		return e
	}

	var extractClassBody func(class *sitter.Node, className string)
	extractClassBody = func(class *sitter.Node, className string) {
		body := class.ChildByFieldName("body")
		if body == nil {
			return
		}
		for i := range int(body.ChildCount()) {
			member := body.Child(i)
			if member.Type() != "method_definition" {
				continue
			}
			nameNode := member.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := parser.GetNodeText(nameNode, source)
			if name == "" {
				continue
			}
			entities = append(entities, makeEntity(member, name, KindMethod, className))
		}
	}

	extractClass := func(span, class *sitter.Node, defaultExport bool) {
		name := jsDeclName(class, source)
		if name == "" && defaultExport {
			name = "default"
		}
		if name == "" {
			return
		}
		e := makeEntity(span, name, KindClass, "")
		e.BaseClasses = jsHeritage(class, source)
		e.DefaultExport = defaultExport
		entities = append(entities, e)
		extractClassBody(class, name)
	}

	extractFunc := func(span, fn *sitter.Node, defaultExport bool) {
		name := jsDeclName(fn, source)
		if name == "" && defaultExport {
			name = "default"
		}
		if name == "" {
			return
		}
		kind := KindFunction
		if jsIsAsync(fn) {
			kind = KindAsyncFunction
		}
		e := makeEntity(span, name, kind, "")
		e.DefaultExport = defaultExport
		entities = append(entities, e)
	}

	extractLexical := func(span, decl *sitter.Node, defaultExport bool) {
		for i := range int(decl.ChildCount()) {
			declarator := decl.Child(i)
			if declarator.Type() != "variable_declarator" {
				continue
			}
			nameNode := declarator.ChildByFieldName("name")
			if nameNode == nil || nameNode.Type() != "identifier" {
				continue
			}
			name := parser.GetNodeText(nameNode, source)
			if name == "" {
				continue
			}
			kind := KindModuleVar
			if value := declarator.ChildByFieldName("value"); value != nil {
				switch value.Type() {
				case "arrow_function", "function", "function_expression":
					kind = KindFunction
					if jsIsAsync(value) {
						kind = KindAsyncFunction
					}
				}
			}
			e := makeEntity(span, name, kind, "")
			e.DefaultExport = defaultExport
			entities = append(entities, e)
		}
	}

	root := result.Tree.RootNode()
	for i := range int(root.ChildCount()) {
		node := root.Child(i)
		switch node.Type() {
		case "function_declaration", "generator_function_declaration":
			extractFunc(node, node, false)
		case "class_declaration", "abstract_class_declaration":
			extractClass(node, node, false)
		case "lexical_declaration", "variable_declaration":
			extractLexical(node, node, false)
		case "export_statement":
			isDefault := false
			for j := range int(node.ChildCount()) {
				if node.Child(j).Type() == "default" {
					isDefault = true
					break
				}
			}

			handled := false
			if decl := node.ChildByFieldName("declaration"); decl != nil {
				handled = true
				switch decl.Type() {
				case "function_declaration", "generator_function_declaration", "function", "arrow_function":
					extractFunc(node, decl, isDefault)
				case "class_declaration", "abstract_class_declaration", "class":
					extractClass(node, decl, isDefault)
				case "lexical_declaration", "variable_declaration":
					extractLexical(node, decl, isDefault)
				default:
					handled = false
				}
			}
			if handled {
				continue
			}

			// export { a, b as c } and re-exports: one export entity per name.
			for j := range int(node.ChildCount()) {
				clause := node.Child(j)
				if clause.Type() != "export_clause" {
					continue
				}
				for k := range int(clause.ChildCount()) {
					spec := clause.Child(k)
					if spec.Type() != "export_specifier" {
						continue
					}
					nameNode := spec.ChildByFieldName("name")
					if nameNode == nil {
						continue
					}
					name := parser.GetNodeText(nameNode, source)
					if name == "" {
						continue
					}
					e := makeEntity(node, name, KindExport, "")
					e.DefaultExport = isDefault
					entities = append(entities, e)
				}
			}
			if isDefault && node.ChildByFieldName("declaration") == nil {
				// export default <expression>
				e := makeEntity(node, "default", KindExport, "")
				e.DefaultExport = true
				entities = append(entities, e)
			}
		}
	}

	return entities
}

func jsDeclName(node *sitter.Node, source []byte) string {
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		return parser.GetNodeText(nameNode, source)
	}
	return ""
}

func jsIsAsync(node *sitter.Node) bool {
	for i := range int(node.ChildCount()) {
		child := node.Child(i)
		if child.Type() == "async" {
			return true
		}
		if child.IsNamed() {
			break
		}
	}
	return false
}

// jsHeritage parses "class Foo extends Bar" into its base names.
func jsHeritage(class *sitter.Node, source []byte) []string {
	var bases []string
	for i := range int(class.ChildCount()) {
		child := class.Child(i)
		if child.Type() != "class_heritage" {
			continue
		}
		parser.Walk(child, source, func(n *sitter.Node, src []byte) bool {
			switch n.Type() {
			case "identifier", "member_expression":
				bases = append(bases, parser.GetNodeText(n, src))
				return false
			}
			return true
		})
	}
	return bases
}

// extractJSImports emits one Import per ES import statement plus CommonJS
// require() calls.
func extractJSImports(result *parser.ParseResult) []Import {
	var imports []Import
	source := result.Source

	isRelative := func(module string) bool {
		return len(module) > 0 && module[0] == '.'
	}

	parser.Walk(result.Tree.RootNode(), source, func(node *sitter.Node, src []byte) bool {
		switch node.Type() {
		case "import_statement":
			srcNode := node.ChildByFieldName("source")
			if srcNode == nil {
				return false
			}
			module := trimStringQuotes(parser.GetNodeText(srcNode, src))
			if module == "" {
				return false
			}

			names := jsImportedNames(node, src)
			if len(names) == 0 {
				imports = append(imports, Import{
					Module:     module,
					IsRelative: isRelative(module),
					Line:       node.StartPoint().Row + 1,
					FilePath:   result.Path,
				})
				return false
			}
			for _, name := range names {
				imports = append(imports, Import{
					Module:     module,
					Names:      []string{name},
					IsRelative: isRelative(module),
					Line:       node.StartPoint().Row + 1,
					FilePath:   result.Path,
				})
			}
			return false

		case "call_expression":
			fn := node.ChildByFieldName("function")
			if fn == nil || parser.GetNodeText(fn, src) != "require" {
				return true
			}
			args := node.ChildByFieldName("arguments")
			if args == nil {
				return true
			}
			for i := range int(args.ChildCount()) {
				arg := args.Child(i)
				if arg.Type() != "string" {
					continue
				}
				module := trimStringQuotes(parser.GetNodeText(arg, src))
				if module != "" {
					imports = append(imports, Import{
						Module:     module,
						IsRelative: isRelative(module),
						Line:       node.StartPoint().Row + 1,
						FilePath:   result.Path,
					})
				}
				break
			}
			return true
		}
		return true
	})

	return imports
}

// jsImportedNames collects default, named, and namespace import bindings.
func jsImportedNames(node *sitter.Node, source []byte) []string {
	var names []string
	for i := range int(node.ChildCount()) {
		clause := node.Child(i)
		if clause.Type() != "import_clause" {
			continue
		}
		parser.Walk(clause, source, func(n *sitter.Node, src []byte) bool {
			switch n.Type() {
			case "identifier":
				names = append(names, parser.GetNodeText(n, src))
				return false
			case "import_specifier":
				if nameNode := n.ChildByFieldName("name"); nameNode != nil {
					names = append(names, parser.GetNodeText(nameNode, src))
				}
				return false
			}
			return true
		})
	}
	return names
}

func trimStringQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') ||
			(s[0] == '\'' && s[len(s)-1] == '\'') ||
			(s[0] == '`' && s[len(s)-1] == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
