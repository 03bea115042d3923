package refs

import (
	"regexp"
	"strings"

	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/GhrammR/the-janitor/pkg/parser"
	sitter "github.com/smacker/go-tree-sitter"
)

// ImportResolver resolves an import record to the files it binds to.
// Satisfied by graph.Builder.
type ImportResolver interface {
	ResolveImport(imp extract.Import, lang parser.Language) []string
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// stringAddressedCallers are functions whose string argument names a task
// or model by dotted path (Celery signatures, Django get_model).
var stringAddressedCallers = map[string]bool{
	"signature": true,
	"s":         true,
	"si":        true,
	"task":      true,
	"get_model": true,
	"get_task":  true,
}

// dependencyMarkers are callables whose argument is a dependency function
// referenced only from a type annotation (FastAPI Depends and friends).
var dependencyMarkers = map[string]bool{
	"Depends":  true,
	"Security": true,
	"Inject":   true,
}

// pyCollector accumulates candidates for one Python file.
type pyCollector struct {
	source   []byte
	path     string
	isInit   bool
	resolver ImportResolver
	varTypes *VariableTypeMap
	cands    []Candidate
}

// CollectPythonCandidates performs the second CST walk over a parsed Python
// file, collecting calls, attribute expressions, decorator identifiers,
// type-hint identifiers, recognised string idioms, imports, and the
// language-specific heuristic patterns. The result is pure per-file data
// suitable for cache replay.
func CollectPythonCandidates(result *parser.ParseResult, resolver ImportResolver, isPackageInit bool) []Candidate {
	if result == nil || result.Tree == nil {
		return nil
	}
	c := &pyCollector{
		source:   result.Source,
		path:     result.Path,
		isInit:   isPackageInit,
		resolver: resolver,
		varTypes: NewVariableTypeMap(),
	}
	c.walk(result.Tree.RootNode(), nil, "")
	c.applyLifespanTeardown(result.Tree.RootNode())
	c.applyPolymorphicORM(result.Tree.RootNode())
	return c.cands
}

func (c *pyCollector) text(n *sitter.Node) string {
	return parser.GetNodeText(n, c.source)
}

func (c *pyCollector) add(cand Candidate) {
	cand.SourceFile = c.path
	c.cands = append(c.cands, cand)
}

func (c *pyCollector) walk(node, parent *sitter.Node, classCtx string) {
	nodeType := node.Type()

	switch nodeType {
	case "class_definition":
		for i := range int(node.ChildCount()) {
			child := node.Child(i)
			if child.Type() == "identifier" {
				classCtx = c.text(child)
				break
			}
		}

	case "import_from_statement":
		c.collectFromImport(node)
		return

	case "import_statement":
		c.collectBareImport(node)
		return

	case "assignment":
		c.trackAssignment(node)
		c.collectDependencyOverride(node)

	case "if_statement":
		if name, typeName, ok := c.extractIsinstance(node.ChildByFieldName("condition")); ok {
			if condition := node.ChildByFieldName("condition"); condition != nil {
				c.walk(condition, node, classCtx)
			}
			c.varTypes.PushNarrowed(name, typeName)
			if consequence := node.ChildByFieldName("consequence"); consequence != nil {
				c.walk(consequence, node, classCtx)
			}
			c.varTypes.PopNarrowed()
			for i := range int(node.ChildCount()) {
				child := node.Child(i)
				if child.Type() == "elif_clause" || child.Type() == "else_clause" {
					c.walk(child, node, classCtx)
				}
			}
			return
		}

	case "call":
		c.collectCall(node, classCtx)
		c.collectStringAddressed(node)
		c.collectDependencyCalls(node)

	case "decorator":
		c.collectDecorator(node)
		return

	case "type", "typed_parameter", "typed_default_parameter":
		c.collectTypeHints(node)

	case "subscript":
		c.collectDependencyCalls(node)

	case "identifier":
		if c.isIdentifierUsage(node, parent) {
			c.add(Candidate{
				SymbolName: c.text(node),
				Line:       node.StartPoint().Row + 1,
				Kind:       RefAttribute,
			})
		}
	}

	for i := range int(node.ChildCount()) {
		c.walk(node.Child(i), node, classCtx)
	}
}

// collectFromImport handles "from module import a, b", resolving the module
// to a file so strategy 1 can bind precisely, and feeding package-export
// tracking when the importer is an __init__ module.
func (c *pyCollector) collectFromImport(node *sitter.Node) {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	moduleText := c.text(moduleNode)
	level := 0
	for level < len(moduleText) && moduleText[level] == '.' {
		level++
	}
	module := moduleText[level:]

	names := c.importedNames(node, moduleNode)
	for _, name := range names {
		if name.text == "*" {
			continue
		}
		var targetFile string
		if c.resolver != nil {
			imp := extract.Import{
				Module:        module,
				Names:         []string{name.text},
				IsRelative:    level > 0,
				RelativeLevel: level,
				FilePath:      c.path,
			}
			if targets := c.resolver.ResolveImport(imp, parser.LangPython); len(targets) > 0 {
				targetFile = targets[0]
			}
		}
		c.add(Candidate{
			SymbolName:    name.text,
			Line:          name.line,
			Kind:          RefImport,
			TargetFile:    targetFile,
			PackageExport: c.isInit && targetFile != "",
		})
	}
}

type importedName struct {
	text string
	line uint32
}

func (c *pyCollector) importedNames(node, moduleNode *sitter.Node) []importedName {
	var names []importedName
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
			text := c.text(n)
			if text != "" && text != "import" && text != "from" && text != "as" {
				names = append(names, importedName{text: text, line: n.StartPoint().Row + 1})
			}
			return
		case "aliased_import":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				names = append(names, importedName{text: c.text(nameNode), line: nameNode.StartPoint().Row + 1})
			}
			return
		case "wildcard_import":
			names = append(names, importedName{text: "*", line: n.StartPoint().Row + 1})
			return
		}
		for i := range int(n.ChildCount()) {
			walk(n.Child(i))
		}
	}
	walk(node)
	return names
}

func (c *pyCollector) collectBareImport(node *sitter.Node) {
	for i := range int(node.ChildCount()) {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			c.add(Candidate{
				SymbolName: c.text(child),
				Line:       child.StartPoint().Row + 1,
				Kind:       RefImport,
			})
		case "aliased_import":
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				c.add(Candidate{
					SymbolName: c.text(nameNode),
					Line:       nameNode.StartPoint().Row + 1,
					Kind:       RefImport,
				})
			}
		}
	}
}

// collectCall emits a candidate for the callee. Attribute calls on self or
// cls carry the enclosing class as context; calls on a variable with an
// inferred type carry that type.
func (c *pyCollector) collectCall(node *sitter.Node, classCtx string) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}

	switch fn.Type() {
	case "identifier":
		c.add(Candidate{
			SymbolName: c.text(fn),
			Line:       fn.StartPoint().Row + 1,
			Kind:       RefCall,
		})

	case "attribute":
		obj := fn.ChildByFieldName("object")
		attr := fn.ChildByFieldName("attribute")
		if attr == nil {
			return
		}
		methodName := c.text(attr)

		var methodClassCtx string
		if obj != nil && obj.Type() == "identifier" {
			objName := c.text(obj)
			if objName == "self" || objName == "cls" {
				methodClassCtx = classCtx
			} else if inferred := c.varTypes.TypeOf(objName); inferred != "" {
				methodClassCtx = inferred
			}
		}

		c.add(Candidate{
			SymbolName:   methodName,
			Line:         attr.StartPoint().Row + 1,
			Kind:         RefCall,
			ClassContext: methodClassCtx,
		})
	}
}

// collectStringAddressed resolves signature('x.y') style task calls to the
// final dotted segment.
func (c *pyCollector) collectStringAddressed(node *sitter.Node) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}

	var fnName string
	switch fn.Type() {
	case "identifier":
		fnName = c.text(fn)
	case "attribute":
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			fnName = c.text(attr)
		}
	}
	if !stringAddressedCallers[fnName] {
		return
	}

	args := node.ChildByFieldName("arguments")
	if args == nil {
		return
	}
	for i := range int(args.ChildCount()) {
		arg := args.Child(i)
		if arg.Type() != "string" {
			continue
		}
		value := strings.Trim(c.text(arg), `"'`)
		parts := strings.Split(value, ".")
		name := parts[len(parts)-1]
		if identifierPattern.MatchString(name) {
			c.add(Candidate{
				SymbolName: name,
				Line:       arg.StartPoint().Row + 1,
				Kind:       RefString,
			})
		}
	}
}

// collectDependencyCalls finds Depends(F)/Security(F)/Inject(F) anywhere in
// the subtree, typically inside Annotated[...] type hints.
func (c *pyCollector) collectDependencyCalls(node *sitter.Node) {
	parser.Walk(node, c.source, func(n *sitter.Node, _ []byte) bool {
		if n.Type() != "call" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() != "identifier" || !dependencyMarkers[c.text(fn)] {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil {
			return true
		}
		for i := range int(args.ChildCount()) {
			arg := args.Child(i)
			if arg.Type() == "identifier" {
				c.add(Candidate{
					SymbolName: c.text(arg),
					Line:       arg.StartPoint().Row + 1,
					Kind:       RefTypeHint,
				})
			}
		}
		return true
	})
}

// collectTypeHints emits identifiers named in annotations plus string
// forward references (x: List['User']).
func (c *pyCollector) collectTypeHints(node *sitter.Node) {
	parser.Walk(node, c.source, func(n *sitter.Node, _ []byte) bool {
		if n.Type() != "string" {
			return true
		}
		name := strings.Trim(c.text(n), `"'`)
		if identifierPattern.MatchString(name) {
			c.add(Candidate{
				SymbolName: name,
				Line:       n.StartPoint().Row + 1,
				Kind:       RefTypeHint,
			})
		}
		return false
	})
}

func (c *pyCollector) collectDecorator(node *sitter.Node) {
	for i := range int(node.ChildCount()) {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			c.add(Candidate{
				SymbolName: c.text(child),
				Line:       child.StartPoint().Row + 1,
				Kind:       RefCall,
			})
		case "attribute":
			if base := child.ChildByFieldName("object"); base != nil && base.Type() == "identifier" {
				c.add(Candidate{
					SymbolName: c.text(base),
					Line:       base.StartPoint().Row + 1,
					Kind:       RefCall,
				})
			}
		case "call":
			if fn := child.ChildByFieldName("function"); fn != nil {
				switch fn.Type() {
				case "identifier":
					c.add(Candidate{
						SymbolName: c.text(fn),
						Line:       fn.StartPoint().Row + 1,
						Kind:       RefCall,
					})
				case "attribute":
					if base := fn.ChildByFieldName("object"); base != nil && base.Type() == "identifier" {
						c.add(Candidate{
							SymbolName: c.text(base),
							Line:       base.StartPoint().Row + 1,
							Kind:       RefCall,
						})
					}
				}
			}
		}
	}
}

// trackAssignment records v = C(...) for the variable-type registry.
func (c *pyCollector) trackAssignment(node *sitter.Node) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" {
		return
	}
	if right.Type() != "call" {
		return
	}
	fn := right.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" {
		return
	}
	typeName := c.text(fn)
	if typeName != "" && typeName[0] >= 'A' && typeName[0] <= 'Z' {
		c.varTypes.Assign(c.text(left), typeName)
	}
}

// collectDependencyOverride handles app.dependency_overrides[T] = F.
func (c *pyCollector) collectDependencyOverride(node *sitter.Node) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "subscript" {
		return
	}
	value := left.ChildByFieldName("value")
	if value == nil || value.Type() != "attribute" {
		return
	}
	attr := value.ChildByFieldName("attribute")
	if attr == nil || c.text(attr) != "dependency_overrides" {
		return
	}
	if right.Type() == "identifier" {
		c.add(Candidate{
			SymbolName: c.text(right),
			Line:       right.StartPoint().Row + 1,
			Kind:       RefCall,
		})
	}
}

// extractIsinstance recognises "if isinstance(v, T):" conditions.
func (c *pyCollector) extractIsinstance(condition *sitter.Node) (name, typeName string, ok bool) {
	if condition == nil {
		return "", "", false
	}
	var found *sitter.Node
	parser.Walk(condition, c.source, func(n *sitter.Node, _ []byte) bool {
		if found != nil {
			return false
		}
		if n.Type() == "call" {
			if fn := n.ChildByFieldName("function"); fn != nil && fn.Type() == "identifier" && c.text(fn) == "isinstance" {
				found = n
				return false
			}
		}
		return true
	})
	if found == nil {
		return "", "", false
	}
	args := found.ChildByFieldName("arguments")
	if args == nil {
		return "", "", false
	}
	var actual []*sitter.Node
	for i := range int(args.ChildCount()) {
		arg := args.Child(i)
		if arg.IsNamed() {
			actual = append(actual, arg)
		}
	}
	if len(actual) < 2 || actual[0].Type() != "identifier" || actual[1].Type() != "identifier" {
		return "", "", false
	}
	return c.text(actual[0]), c.text(actual[1]), true
}

// isIdentifierUsage filters out binding positions: definition names,
// parameter names, import bindings, decorator names, and assignment
// left-hand sides. Everything else counts as a usage.
func (c *pyCollector) isIdentifierUsage(node, parent *sitter.Node) bool {
	if parent == nil {
		return false
	}

	switch parent.Type() {
	case "function_definition", "class_definition":
		if nameNode := parent.ChildByFieldName("name"); nameNode != nil &&
			nameNode.StartByte() == node.StartByte() {
			return false
		}
	case "parameters", "lambda_parameters", "list_splat_pattern", "dictionary_splat_pattern":
		// Direct identifier children of a parameter list are bindings.
		return false
	case "default_parameter", "typed_default_parameter":
		if nameNode := parent.ChildByFieldName("name"); nameNode != nil &&
			nameNode.StartByte() == node.StartByte() {
			return false
		}
	case "typed_parameter":
		// First child is the parameter name; the annotation is a usage.
		if parent.Child(0) != nil && parent.Child(0).StartByte() == node.StartByte() {
			return false
		}
	case "import_from_statement", "import_statement", "aliased_import", "dotted_name":
		return false
	case "decorator":
		return false
	case "keyword_argument":
		if nameNode := parent.ChildByFieldName("name"); nameNode != nil &&
			nameNode.StartByte() == node.StartByte() {
			return false
		}
	case "assignment", "augmented_assignment":
		if left := parent.ChildByFieldName("left"); left != nil &&
			node.StartByte() >= left.StartByte() && node.EndByte() <= left.EndByte() {
			return false
		}
	}

	return true
}

// applyLifespanTeardown protects identifiers occurring textually after the
// yield inside @asynccontextmanager functions; they run at teardown and
// look dead to call analysis.
func (c *pyCollector) applyLifespanTeardown(root *sitter.Node) {
	parser.Walk(root, c.source, func(node *sitter.Node, _ []byte) bool {
		if node.Type() != "decorated_definition" {
			return true
		}

		decorated := false
		var fnBody *sitter.Node
		for i := range int(node.ChildCount()) {
			child := node.Child(i)
			switch child.Type() {
			case "decorator":
				if strings.Contains(c.text(child), "asynccontextmanager") {
					decorated = true
				}
			case "function_definition":
				fnBody = child.ChildByFieldName("body")
			}
		}
		if !decorated || fnBody == nil {
			return true
		}

		yieldEnd := uint32(0)
		parser.Walk(fnBody, c.source, func(n *sitter.Node, _ []byte) bool {
			if yieldEnd == 0 && n.Type() == "yield" {
				yieldEnd = n.EndByte()
				return false
			}
			return yieldEnd == 0
		})
		if yieldEnd == 0 {
			return true
		}

		parser.Walk(fnBody, c.source, func(n *sitter.Node, _ []byte) bool {
			if n.Type() == "identifier" && n.StartByte() > yieldEnd {
				c.add(Candidate{
					SymbolName: c.text(n),
					Line:       n.StartPoint().Row + 1,
					Kind:       RefCall,
				})
			}
			return true
		})
		return true
	})
}

// applyPolymorphicORM protects classes that define __mapper_args__: the ORM
// registry instantiates them through the polymorphic discriminator.
func (c *pyCollector) applyPolymorphicORM(root *sitter.Node) {
	parser.Walk(root, c.source, func(node *sitter.Node, _ []byte) bool {
		if node.Type() != "class_definition" {
			return true
		}
		body := node.ChildByFieldName("body")
		nameNode := node.ChildByFieldName("name")
		if body == nil || nameNode == nil {
			return true
		}
		if !strings.Contains(c.text(body), "__mapper_args__") {
			return true
		}
		c.add(Candidate{
			SymbolName: c.text(nameNode),
			Line:       node.StartPoint().Row + 1,
			Kind:       RefString,
		})
		return true
	})
}
