package extract

import (
	"strings"

	"github.com/GhrammR/the-janitor/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

// extractPythonEntities emits entities for top-level functions and classes,
// methods scoped to their enclosing class, and module-level bare-name
// assignments. Nested defs inside function bodies are not entities.
func extractPythonEntities(result *parser.ParseResult) []Entity {
	var entities []Entity
	source := result.Source

	var walk func(node *sitter.Node, parentClass string, topLevel bool)

	emit := func(span, def *sitter.Node, decorators []string, parentClass string) {
		name := pyNodeName(def, source)
		if name == "" {
			return
		}

		kind := KindFunction
		switch def.Type() {
		case "class_definition":
			kind = KindClass
		case "function_definition":
			if isAsyncDef(def) {
				kind = KindAsyncFunction
			}
			if parentClass != "" {
				kind = KindMethod
			}
		}

		qualified := name
		if parentClass != "" && kind == KindMethod {
			qualified = parentClass + "." + name
		}

		fullText := parser.GetNodeText(span, source)
		e := Entity{
			Name:           name,
			Kind:           kind,
			FilePath:       result.Path,
			StartByte:      def.StartByte(),
			SpanStartByte:  span.StartByte(),
			EndByte:        span.EndByte(),
			StartLine:      span.StartPoint().Row + 1,
			EndLine:        span.EndPoint().Row + 1,
			QualifiedName:  qualified,
			Decorators:     decorators,
			FullText:       fullText,
			StructuralHash: structuralHash(fullText),
		}
		if kind == KindMethod {
			e.ParentClass = parentClass
		}
		if kind == KindClass {
			e.BaseClasses = pyBaseClasses(def, source)
		}
		entities = append(entities, e)

		if kind == KindClass {
			if body := def.ChildByFieldName("body"); body != nil {
				walk(body, name, false)
			}
		}
	}

	walk = func(node *sitter.Node, parentClass string, topLevel bool) {
		for i := range int(node.ChildCount()) {
			child := node.Child(i)
			switch child.Type() {
			case "decorated_definition":
				var decorators []string
				var inner *sitter.Node
				for j := range int(child.ChildCount()) {
					sub := child.Child(j)
					switch sub.Type() {
					case "decorator":
						decorators = append(decorators, strings.TrimSpace(parser.GetNodeText(sub, source)))
					case "function_definition", "class_definition":
						inner = sub
					}
				}
				if inner != nil {
					emit(child, inner, decorators, parentClass)
				}
			case "function_definition", "class_definition":
				emit(child, child, nil, parentClass)
			case "expression_statement":
				if topLevel {
					if v := pyModuleVariable(child, source, result.Path); v != nil {
						entities = append(entities, *v)
					}
				}
			case "if_statement", "try_statement", "with_statement":
				// Conditional module-level definitions still count.
				walk(child, parentClass, topLevel)
			case "block":
				walk(child, parentClass, topLevel)
			}
		}
	}

	walk(result.Tree.RootNode(), "", true)
	return entities
}

// pyModuleVariable extracts a module-level assignment whose left-hand side
// is a bare name.
func pyModuleVariable(stmt *sitter.Node, source []byte, path string) *Entity {
	for i := range int(stmt.ChildCount()) {
		assign := stmt.Child(i)
		if assign.Type() != "assignment" {
			continue
		}
		left := assign.ChildByFieldName("left")
		if left == nil || left.Type() != "identifier" {
			return nil
		}
		name := parser.GetNodeText(left, source)
		if name == "" {
			return nil
		}
		fullText := parser.GetNodeText(stmt, source)
		return &Entity{
			Name:           name,
			Kind:           KindModuleVar,
			FilePath:       path,
			StartByte:      stmt.StartByte(),
			SpanStartByte:  stmt.StartByte(),
			EndByte:        stmt.EndByte(),
			StartLine:      stmt.StartPoint().Row + 1,
			EndLine:        stmt.EndPoint().Row + 1,
			QualifiedName:  name,
			FullText:       fullText,
			StructuralHash: structuralHash(fullText),
		}
	}
	return nil
}

func pyNodeName(node *sitter.Node, source []byte) string {
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		return parser.GetNodeText(nameNode, source)
	}
	for i := range int(node.ChildCount()) {
		child := node.Child(i)
		if child.Type() == "identifier" {
			return parser.GetNodeText(child, source)
		}
	}
	return ""
}

func isAsyncDef(node *sitter.Node) bool {
	for i := range int(node.ChildCount()) {
		child := node.Child(i)
		if child.Type() == "async" {
			return true
		}
		if child.Type() == "def" {
			break
		}
	}
	return false
}

// pyBaseClasses parses class Child(Base1, mod.Base2) into its base names.
func pyBaseClasses(class *sitter.Node, source []byte) []string {
	args := class.ChildByFieldName("superclasses")
	if args == nil {
		for i := range int(class.ChildCount()) {
			if class.Child(i).Type() == "argument_list" {
				args = class.Child(i)
				break
			}
		}
	}
	if args == nil {
		return nil
	}

	var bases []string
	for i := range int(args.ChildCount()) {
		child := args.Child(i)
		switch child.Type() {
		case "identifier", "attribute":
			bases = append(bases, parser.GetNodeText(child, source))
		case "keyword_argument":
			// metaclass=... and friends are not inheritance
		}
	}
	return bases
}

// extractPythonImports emits one Import per imported name. Relative levels
// count leading dots: "from .pkg import x" has level 1.
func extractPythonImports(result *parser.ParseResult) []Import {
	var imports []Import
	source := result.Source

	parser.Walk(result.Tree.RootNode(), source, func(node *sitter.Node, src []byte) bool {
		switch node.Type() {
		case "import_statement":
			for i := range int(node.ChildCount()) {
				child := node.Child(i)
				var module string
				switch child.Type() {
				case "dotted_name":
					module = parser.GetNodeText(child, src)
				case "aliased_import":
					if nameNode := child.ChildByFieldName("name"); nameNode != nil {
						module = parser.GetNodeText(nameNode, src)
					}
				}
				if module != "" {
					imports = append(imports, Import{
						Module:   module,
						Line:     node.StartPoint().Row + 1,
						FilePath: result.Path,
					})
				}
			}
			return false

		case "import_from_statement":
			moduleNode := node.ChildByFieldName("module_name")
			if moduleNode == nil {
				return false
			}
			moduleText := parser.GetNodeText(moduleNode, src)
			level := 0
			for level < len(moduleText) && moduleText[level] == '.' {
				level++
			}
			module := moduleText[level:]
			isRelative := level > 0

			names := pyImportedNames(node, moduleNode, src)
			if len(names) == 0 {
				imports = append(imports, Import{
					Module:        module,
					IsRelative:    isRelative,
					RelativeLevel: level,
					Line:          node.StartPoint().Row + 1,
					FilePath:      result.Path,
				})
				return false
			}
			for _, name := range names {
				imports = append(imports, Import{
					Module:        module,
					Names:         []string{name},
					IsRelative:    isRelative,
					RelativeLevel: level,
					Line:          node.StartPoint().Row + 1,
					FilePath:      result.Path,
				})
			}
			return false
		}
		return true
	})

	return imports
}

// pyImportedNames collects every imported name from a from-import,
// including parenthesized multi-line forms and aliases (the original name
// is kept, not the alias binding).
func pyImportedNames(node, moduleNode *sitter.Node, source []byte) []string {
	var names []string
	seenModule := false

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.StartByte() == moduleNode.StartByte() && n.EndByte() == moduleNode.EndByte() {
			seenModule = true
			return
		}
		switch n.Type() {
		case "dotted_name", "identifier":
			if !seenModule {
				return
			}
			text := parser.GetNodeText(n, source)
			if text != "" && text != "import" && text != "from" && text != "as" {
				names = append(names, text)
			}
			return
		case "aliased_import":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				names = append(names, parser.GetNodeText(nameNode, source))
			}
			return
		case "wildcard_import":
			names = append(names, "*")
			return
		}
		for i := range int(n.ChildCount()) {
			walk(n.Child(i))
		}
	}
	walk(node)
	return names
}
