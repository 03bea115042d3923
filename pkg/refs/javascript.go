package refs

import (
	"strings"

	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/GhrammR/the-janitor/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

// jsCollector accumulates candidates for one JS/TS file.
type jsCollector struct {
	source   []byte
	path     string
	lang     parser.Language
	resolver ImportResolver
	cands    []Candidate
}

// CollectJSCandidates walks a parsed JavaScript/TypeScript file collecting
// import bindings, call expressions, instantiations, JSX element names,
// route-handler and hook-callback identifiers, and type identifiers.
func CollectJSCandidates(result *parser.ParseResult, resolver ImportResolver) []Candidate {
	if result == nil || result.Tree == nil {
		return nil
	}
	c := &jsCollector{
		source:   result.Source,
		path:     result.Path,
		lang:     result.Language,
		resolver: resolver,
	}
	c.walk(result.Tree.RootNode(), "")
	return c.cands
}

func (c *jsCollector) text(n *sitter.Node) string {
	return parser.GetNodeText(n, c.source)
}

func (c *jsCollector) add(cand Candidate) {
	cand.SourceFile = c.path
	c.cands = append(c.cands, cand)
}

func (c *jsCollector) walk(node *sitter.Node, classCtx string) {
	switch node.Type() {
	case "class_declaration", "class":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			classCtx = c.text(nameNode)
		}

	case "import_statement":
		c.collectImport(node)
		return

	case "call_expression":
		c.collectCall(node, classCtx)

	case "new_expression":
		if ctor := node.ChildByFieldName("constructor"); ctor != nil && ctor.Type() == "identifier" {
			c.add(Candidate{
				SymbolName: c.text(ctor),
				Line:       ctor.StartPoint().Row + 1,
				Kind:       RefCall,
			})
		} else if node.ChildCount() > 1 && node.Child(1).Type() == "identifier" {
			class := node.Child(1)
			c.add(Candidate{
				SymbolName: c.text(class),
				Line:       class.StartPoint().Row + 1,
				Kind:       RefCall,
			})
		}

	case "jsx_opening_element", "jsx_self_closing_element":
		if nameNode := node.ChildByFieldName("name"); nameNode != nil && nameNode.Type() == "identifier" {
			name := c.text(nameNode)
			// Lowercase names are intrinsic HTML elements.
			if name != "" && name[0] >= 'A' && name[0] <= 'Z' {
				c.add(Candidate{
					SymbolName: name,
					Line:       nameNode.StartPoint().Row + 1,
					Kind:       RefAttribute,
				})
			}
		}

	case "type_identifier":
		c.add(Candidate{
			SymbolName: c.text(node),
			Line:       node.StartPoint().Row + 1,
			Kind:       RefTypeHint,
		})

	case "export_statement":
		// Re-exported names count as references to their definitions.
		for i := range int(node.ChildCount()) {
			clause := node.Child(i)
			if clause.Type() != "export_clause" {
				continue
			}
			for j := range int(clause.ChildCount()) {
				spec := clause.Child(j)
				if spec.Type() != "export_specifier" {
					continue
				}
				if nameNode := spec.ChildByFieldName("name"); nameNode != nil {
					c.add(Candidate{
						SymbolName: c.text(nameNode),
						Line:       nameNode.StartPoint().Row + 1,
						Kind:       RefAttribute,
					})
				}
			}
		}
	}

	for i := range int(node.ChildCount()) {
		c.walk(node.Child(i), classCtx)
	}
}

func (c *jsCollector) collectImport(node *sitter.Node) {
	srcNode := node.ChildByFieldName("source")
	if srcNode == nil {
		return
	}
	module := strings.Trim(c.text(srcNode), "\"'`")

	var targetFile string
	if c.resolver != nil && module != "" {
		imp := extract.Import{
			Module:     module,
			IsRelative: strings.HasPrefix(module, "."),
			FilePath:   c.path,
		}
		if targets := c.resolver.ResolveImport(imp, c.lang); len(targets) > 0 {
			targetFile = targets[0]
		}
	}

	for i := range int(node.ChildCount()) {
		clause := node.Child(i)
		if clause.Type() != "import_clause" {
			continue
		}
		parser.Walk(clause, c.source, func(n *sitter.Node, _ []byte) bool {
			switch n.Type() {
			case "identifier":
				c.add(Candidate{
					SymbolName: c.text(n),
					Line:       n.StartPoint().Row + 1,
					Kind:       RefImport,
					TargetFile: targetFile,
				})
				return false
			case "import_specifier":
				if nameNode := n.ChildByFieldName("name"); nameNode != nil {
					c.add(Candidate{
						SymbolName: c.text(nameNode),
						Line:       nameNode.StartPoint().Row + 1,
						Kind:       RefImport,
						TargetFile: targetFile,
					})
				}
				return false
			}
			return true
		})
	}
}

// routeMethods are Express-style registration methods whose handler
// arguments are invoked by the framework, not by application code.
var routeMethods = map[string]bool{
	"get": true, "post": true, "put": true, "delete": true,
	"patch": true, "use": true, "all": true,
}

// hookCallers are React hooks whose callback and dependency identifiers
// run implicitly.
var hookCallers = map[string]bool{
	"useEffect": true, "useCallback": true, "useMemo": true,
	"useLayoutEffect": true,
}

func (c *jsCollector) collectCall(node *sitter.Node, classCtx string) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}

	switch fn.Type() {
	case "identifier":
		name := c.text(fn)
		c.add(Candidate{
			SymbolName: name,
			Line:       fn.StartPoint().Row + 1,
			Kind:       RefCall,
		})
		if hookCallers[name] {
			c.collectArgumentIdentifiers(node)
		}

	case "member_expression":
		prop := fn.ChildByFieldName("property")
		obj := fn.ChildByFieldName("object")
		if prop == nil {
			return
		}
		methodName := c.text(prop)

		var methodClassCtx string
		if obj != nil && obj.Type() == "this" {
			methodClassCtx = classCtx
		}

		c.add(Candidate{
			SymbolName:   methodName,
			Line:         prop.StartPoint().Row + 1,
			Kind:         RefCall,
			ClassContext: methodClassCtx,
		})

		// router.get('/path', handler): the handler identifier is a live
		// reference even though it never appears in call position.
		if routeMethods[methodName] {
			c.collectArgumentIdentifiers(node)
		}
	}
}

func (c *jsCollector) collectArgumentIdentifiers(call *sitter.Node) {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return
	}
	for i := range int(args.ChildCount()) {
		arg := args.Child(i)
		if arg.Type() == "identifier" {
			c.add(Candidate{
				SymbolName: c.text(arg),
				Line:       arg.StartPoint().Row + 1,
				Kind:       RefAttribute,
			})
		}
	}
}
