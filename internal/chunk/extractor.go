package chunk

import (
	"sort"
	"strings"
)

// SymbolExtractor walks a parsed tree and yields SemanticUnit values in
// source order. One instance is reused across files of the same language.
type SymbolExtractor struct {
	registry *LanguageRegistry
}

// NewSymbolExtractor creates a new symbol extractor using the default registry.
func NewSymbolExtractor() *SymbolExtractor {
	return &SymbolExtractor{registry: DefaultRegistry()}
}

// NewSymbolExtractorWithRegistry creates a new symbol extractor with a custom registry.
func NewSymbolExtractorWithRegistry(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{registry: registry}
}

// ctx carries the lexically enclosing declaration down the tree, used to
// decide method-vs-function and to populate Parent.
type ctx struct {
	kind Kind
	name string
}

// Extract walks the parse tree and returns SemanticUnit values in source order.
func (e *SymbolExtractor) Extract(tree *Tree, source []byte) []*SemanticUnit {
	if tree == nil || tree.Root == nil {
		return []*SemanticUnit{}
	}

	var units []*SemanticUnit
	switch tree.Language {
	case "go":
		e.walkGo(tree.Root, source, &units)
	case "rust":
		e.walkRust(tree.Root, source, ctx{}, &units)
	case "python":
		e.walkPython(tree.Root, source, ctx{}, &units)
	case "typescript", "tsx", "javascript", "jsx":
		e.walkJSFamily(tree.Root, source, ctx{}, &units)
	case "java":
		e.walkJava(tree.Root, source, ctx{}, &units)
	case "c":
		e.walkC(tree.Root, source, &units)
	case "cpp":
		e.walkCpp(tree.Root, source, ctx{}, &units)
	}

	sort.SliceStable(units, func(i, j int) bool { return units[i].StartByte < units[j].StartByte })
	if units == nil {
		units = []*SemanticUnit{}
	}
	return units
}

func makeUnit(n *Node, source []byte, kind Kind, name string) *SemanticUnit {
	return &SemanticUnit{
		Kind:      kind,
		Name:      name,
		Content:   n.GetContent(source),
		StartLine: int(n.StartPoint.Row) + 1,
		EndLine:   int(n.EndPoint.Row) + 1,
		StartByte: n.StartByte,
		EndByte:   n.EndByte,
	}
}

func specNames(n *Node, source []byte, specType string) []string {
	var names []string
	for _, spec := range n.FindChildrenByType(specType) {
		if name := firstChildContent(spec, source, "identifier"); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func firstChildContent(n *Node, source []byte, types ...string) string {
	for _, child := range n.Children {
		for _, t := range types {
			if child.Type == t {
				return child.GetContent(source)
			}
		}
	}
	return ""
}

func firstLineUpTo(content string, cut string) string {
	lines := strings.SplitN(content, "\n", 2)
	first := strings.TrimSpace(lines[0])
	if idx := strings.Index(first, cut); idx != -1 {
		return strings.TrimSpace(first[:idx])
	}
	return first
}

// leadingComment collects consecutive comment lines immediately preceding
// node's start line whose trimmed text begins with any of prefixes.
func leadingComment(source []byte, n *Node, prefixes ...string) string {
	lines := splitLinesKeepEmpty(source)
	startLine := int(n.StartPoint.Row) // 0-indexed line of node
	var collected []string
	for i := startLine - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			break
		}
		matched := false
		for _, p := range prefixes {
			if strings.HasPrefix(trimmed, p) {
				matched = true
				break
			}
		}
		if !matched {
			break
		}
		collected = append([]string{trimmed}, collected...)
	}
	return strings.Join(collected, "\n")
}

// leadingBlockComment looks for a /* ... */ or /** ... */ block comment on
// the lines immediately preceding node's start.
func leadingBlockComment(source []byte, n *Node, mustStartWith string) string {
	lines := splitLinesKeepEmpty(source)
	startLine := int(n.StartPoint.Row)
	end := startLine - 1
	if end < 0 {
		return ""
	}
	// Scan upward collecting lines until we hit the comment opener.
	var collected []string
	found := false
	for i := end; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		collected = append([]string{trimmed}, collected...)
		if strings.HasPrefix(trimmed, mustStartWith) {
			found = true
			break
		}
		if trimmed == "" || (i != end && !strings.HasPrefix(trimmed, "*") && !strings.HasSuffix(trimmed, "*/")) {
			return ""
		}
	}
	if !found {
		return ""
	}
	return strings.Join(collected, "\n")
}

func splitLinesKeepEmpty(source []byte) []string {
	return strings.Split(string(source), "\n")
}

// ---------------------------------------------------------------- go

func isGoTestName(name string) bool {
	return strings.HasPrefix(name, "Test") || strings.HasPrefix(name, "Benchmark") || strings.HasPrefix(name, "Example")
}

func (e *SymbolExtractor) walkGo(n *Node, source []byte, out *[]*SemanticUnit) {
	for _, child := range n.Children {
		switch child.Type {
		case "function_declaration":
			name := firstChildContent(child, source, "identifier")
			if name != "" {
				kind := KindFunction
				if isGoTestName(name) {
					kind = KindTest
				}
				u := makeUnit(child, source, kind, name)
				u.DocComment = leadingComment(source, child, "//")
				u.Signature = firstLineUpTo(u.Content, "{")
				*out = append(*out, u)
			}
		case "method_declaration":
			name := firstChildContent(child, source, "field_identifier")
			if name != "" {
				parent := goReceiverType(child, source)
				kind := KindMethod
				if isGoTestName(name) {
					kind = KindTest
				}
				u := makeUnit(child, source, kind, name)
				u.Parent = parent
				u.DocComment = leadingComment(source, child, "//")
				u.Signature = firstLineUpTo(u.Content, "{")
				*out = append(*out, u)
			}
		case "type_declaration":
			for _, spec := range child.FindChildrenByType("type_spec") {
				name := firstChildContent(spec, source, "type_identifier")
				if name == "" {
					continue
				}
				kind := KindTypeAlias
				if spec.FindChildByType("struct_type") != nil {
					kind = KindStruct
				} else if spec.FindChildByType("interface_type") != nil {
					kind = KindInterface
				}
				u := makeUnit(child, source, kind, name)
				u.DocComment = leadingComment(source, child, "//")
				u.Signature = firstLineUpTo(u.Content, "{")
				*out = append(*out, u)
			}
		case "const_declaration":
			names := specNames(child, source, "const_spec")
			if len(names) > 0 {
				u := makeUnit(child, source, KindConstant, strings.Join(names, ", "))
				u.DocComment = leadingComment(source, child, "//")
				*out = append(*out, u)
			}
		case "var_declaration":
			if len(child.GetContent(source)) >= 20 {
				names := specNames(child, source, "var_spec")
				if len(names) > 0 {
					u := makeUnit(child, source, KindConstant, strings.Join(names, ", "))
					u.DocComment = leadingComment(source, child, "//")
					*out = append(*out, u)
				}
			}
		}
		e.walkGo(child, source, out)
	}
}

// goReceiverType returns the receiver's type name with any leading '*' stripped.
func goReceiverType(method *Node, source []byte) string {
	params := method.FindChildByType("parameter_list")
	if params == nil {
		return ""
	}
	for _, p := range params.FindChildrenByType("parameter_declaration") {
		for _, c := range p.Children {
			switch c.Type {
			case "type_identifier":
				return c.GetContent(source)
			case "pointer_type":
				return strings.TrimPrefix(c.GetContent(source), "*")
			}
		}
	}
	return ""
}

// ---------------------------------------------------------------- rust

func (e *SymbolExtractor) walkRust(n *Node, source []byte, c ctx, out *[]*SemanticUnit) {
	for i, child := range n.Children {
		switch child.Type {
		case "function_item":
			name := firstChildContent(child, source, "identifier")
			if name == "" {
				continue
			}
			kind := KindFunction
			if c.kind == KindImpl {
				kind = KindMethod
			}
			if hasRustTestAttribute(n, i, source) {
				kind = KindTest
			}
			u := makeUnit(child, source, kind, name)
			u.Parent = c.name
			u.DocComment = leadingComment(source, child, "///", "//!")
			u.Signature = firstLineUpTo(u.Content, "{")
			*out = append(*out, u)
			e.walkRust(child, source, ctx{}, out)
		case "struct_item":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindStruct, name)
			u.DocComment = leadingComment(source, child, "///", "//!")
			*out = append(*out, u)
		case "enum_item":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindEnum, name)
			u.DocComment = leadingComment(source, child, "///", "//!")
			*out = append(*out, u)
		case "trait_item":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindTrait, name)
			u.DocComment = leadingComment(source, child, "///", "//!")
			*out = append(*out, u)
			e.walkRust(child, source, ctx{kind: KindTrait, name: name}, out)
		case "impl_item":
			target := rustImplTarget(child, source)
			u := makeUnit(child, source, KindImpl, target)
			*out = append(*out, u)
			e.walkRust(child, source, ctx{kind: KindImpl, name: target}, out)
		case "mod_item":
			name := firstChildContent(child, source, "identifier")
			u := makeUnit(child, source, KindModule, name)
			u.DocComment = leadingComment(source, child, "///", "//!")
			*out = append(*out, u)
			e.walkRust(child, source, ctx{}, out)
		case "const_item", "static_item":
			name := firstChildContent(child, source, "identifier")
			u := makeUnit(child, source, KindConstant, name)
			*out = append(*out, u)
		case "type_item":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindTypeAlias, name)
			*out = append(*out, u)
		case "macro_definition":
			name := firstChildContent(child, source, "identifier")
			u := makeUnit(child, source, KindMacro, name)
			*out = append(*out, u)
		default:
			e.walkRust(child, source, c, out)
		}
	}
}

func rustImplTarget(impl *Node, source []byte) string {
	types := impl.FindChildrenByType("type_identifier")
	if len(types) > 0 {
		return types[len(types)-1].GetContent(source)
	}
	return ""
}

func hasRustTestAttribute(parent *Node, idx int, source []byte) bool {
	for i := idx - 1; i >= 0; i-- {
		sib := parent.Children[i]
		if sib.Type != "attribute_item" {
			break
		}
		text := sib.GetContent(source)
		if strings.Contains(text, "test") || strings.Contains(text, "rstest") {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------- python

func (e *SymbolExtractor) walkPython(n *Node, source []byte, c ctx, out *[]*SemanticUnit) {
	for _, child := range n.Children {
		target := child
		isDecorated := false
		var decoratorText string
		if child.Type == "decorated_definition" {
			isDecorated = true
			decoratorText = child.GetContent(source)
			if def := child.FindChildByType("function_definition"); def != nil {
				target = def
			} else if def := child.FindChildByType("class_definition"); def != nil {
				target = def
			} else {
				continue
			}
		}

		switch target.Type {
		case "function_definition":
			name := firstChildContent(target, source, "identifier")
			if name == "" {
				continue
			}
			kind := KindFunction
			if c.kind == KindClass {
				kind = KindMethod
			}
			if strings.HasPrefix(name, "test_") {
				kind = KindTest
			}
			if isDecorated && (strings.Contains(decoratorText, "pytest.fixture") || strings.Contains(decoratorText, "@fixture")) {
				kind = KindTest
			}
			span := target
			if isDecorated {
				span = child
			}
			u := makeUnit(span, source, kind, name)
			u.Parent = c.name
			u.Signature = pythonSignature(target, source)
			u.DocComment = pythonDocstring(target, source)
			*out = append(*out, u)
		case "class_definition":
			name := firstChildContent(target, source, "identifier")
			span := target
			if isDecorated {
				span = child
			}
			u := makeUnit(span, source, KindClass, name)
			u.DocComment = pythonDocstring(target, source)
			*out = append(*out, u)
			e.walkPython(target, source, ctx{kind: KindClass, name: name}, out)
			continue
		case "expression_statement":
			if c.kind == "" {
				if assign := target.FindChildByType("assignment"); assign != nil && len(assign.GetContent(source)) >= 20 {
					name := firstChildContent(assign, source, "identifier")
					if name != "" {
						u := makeUnit(target, source, KindConstant, name)
						*out = append(*out, u)
					}
				}
			}
		}
		e.walkPython(child, source, c, out)
	}
}

func pythonSignature(fn *Node, source []byte) string {
	content := fn.GetContent(source)
	lines := strings.SplitN(content, "\n", 2)
	first := strings.TrimSpace(lines[0])
	return strings.TrimSuffix(first, ":")
}

// pythonDocstring returns the first statement of the body if it is a string literal.
func pythonDocstring(def *Node, source []byte) string {
	body := def.FindChildByType("block")
	if body == nil || len(body.Children) == 0 {
		return ""
	}
	first := body.Children[0]
	if first.Type != "expression_statement" {
		return ""
	}
	if len(first.Children) == 0 || first.Children[0].Type != "string" {
		return ""
	}
	return strings.Trim(first.Children[0].GetContent(source), "\"' \t\r\n")
}

// ---------------------------------------------------------------- js/ts family

func isJSTestName(name string) bool {
	for _, p := range []string{"test", "Test", "it", "describe", "should"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (e *SymbolExtractor) walkJSFamily(n *Node, source []byte, c ctx, out *[]*SemanticUnit) {
	for _, child := range n.Children {
		target := child
		span := child
		if child.Type == "export_statement" {
			inner := firstNonKeywordChild(child)
			if inner == nil {
				e.walkJSFamily(child, source, c, out)
				continue
			}
			target = inner
			span = child // content expands to cover "export"
		}

		switch target.Type {
		case "function_declaration":
			name := firstChildContent(target, source, "identifier")
			if name == "" {
				continue
			}
			kind := KindFunction
			if isJSTestName(name) {
				kind = KindTest
			}
			u := makeUnit(span, source, kind, name)
			u.Signature = firstLineUpTo(target.GetContent(source), "{")
			u.DocComment = leadingBlockComment(source, span, "/**")
			*out = append(*out, u)
		case "class_declaration":
			name := firstChildContent(target, source, "identifier", "type_identifier")
			u := makeUnit(span, source, KindClass, name)
			u.DocComment = leadingBlockComment(source, span, "/**")
			*out = append(*out, u)
			e.walkJSFamily(target, source, ctx{kind: KindClass, name: name}, out)
			continue
		case "method_definition":
			name := firstChildContent(target, source, "property_identifier")
			if name == "" {
				continue
			}
			kind := KindMethod
			if isJSTestName(name) {
				kind = KindTest
			}
			u := makeUnit(span, source, kind, name)
			u.Parent = c.name
			u.Signature = firstLineUpTo(target.GetContent(source), "{")
			*out = append(*out, u)
		case "interface_declaration":
			name := firstChildContent(target, source, "type_identifier")
			u := makeUnit(span, source, KindInterface, name)
			u.DocComment = leadingBlockComment(source, span, "/**")
			*out = append(*out, u)
		case "type_alias_declaration":
			name := firstChildContent(target, source, "type_identifier")
			u := makeUnit(span, source, KindTypeAlias, name)
			*out = append(*out, u)
		case "enum_declaration":
			name := firstChildContent(target, source, "identifier")
			u := makeUnit(span, source, KindEnum, name)
			*out = append(*out, u)
		case "lexical_declaration", "variable_declaration":
			if u := jsVariableFunctionUnit(target, span, source, c); u != nil {
				*out = append(*out, u)
			}
		}
		e.walkJSFamily(child, source, c, out)
	}
}

func firstNonKeywordChild(exportStmt *Node) *Node {
	for _, child := range exportStmt.Children {
		switch child.Type {
		case "export", "default", "\"export\"":
			continue
		}
		if strings.Contains(child.Type, "declaration") {
			return child
		}
	}
	return nil
}

func jsVariableFunctionUnit(n, span *Node, source []byte, c ctx) *SemanticUnit {
	for _, declarator := range n.FindChildrenByType("variable_declarator") {
		var name string
		var fn *Node
		for _, gc := range declarator.Children {
			switch gc.Type {
			case "identifier":
				name = gc.GetContent(source)
			case "arrow_function", "function", "function_expression":
				fn = gc
			}
		}
		if name != "" && fn != nil {
			kind := KindFunction
			if isJSTestName(name) {
				kind = KindTest
			}
			u := makeUnit(span, source, kind, name)
			u.Signature = firstLineUpTo(span.GetContent(source), "{")
			u.DocComment = leadingBlockComment(source, span, "/**")
			return u
		}
	}
	return nil
}

// ---------------------------------------------------------------- java

func javaIsTestMethod(method *Node, source []byte, name string) bool {
	if strings.HasPrefix(name, "test") || strings.HasPrefix(name, "Test") {
		return true
	}
	mods := method.FindChildByType("modifiers")
	if mods == nil {
		return false
	}
	text := mods.GetContent(source)
	return strings.Contains(text, "@Test") || strings.Contains(text, "@ParameterizedTest") || strings.Contains(text, "@RepeatedTest")
}

func (e *SymbolExtractor) walkJava(n *Node, source []byte, c ctx, out *[]*SemanticUnit) {
	for _, child := range n.Children {
		switch child.Type {
		case "class_declaration":
			name := firstChildContent(child, source, "identifier")
			u := makeUnit(child, source, KindClass, name)
			u.DocComment = leadingBlockComment(source, child, "/**")
			*out = append(*out, u)
			e.walkJava(child, source, ctx{kind: KindClass, name: name}, out)
			continue
		case "interface_declaration":
			name := firstChildContent(child, source, "identifier")
			u := makeUnit(child, source, KindInterface, name)
			u.DocComment = leadingBlockComment(source, child, "/**")
			*out = append(*out, u)
			e.walkJava(child, source, ctx{kind: KindClass, name: name}, out)
			continue
		case "enum_declaration":
			name := firstChildContent(child, source, "identifier")
			u := makeUnit(child, source, KindEnum, name)
			*out = append(*out, u)
		case "method_declaration", "constructor_declaration":
			name := firstChildContent(child, source, "identifier")
			if name == "" {
				continue
			}
			kind := KindMethod
			if javaIsTestMethod(child, source, name) {
				kind = KindTest
			}
			u := makeUnit(child, source, kind, name)
			u.Parent = c.name
			u.Signature = firstLineUpTo(child.GetContent(source), "{")
			u.DocComment = leadingBlockComment(source, child, "/**")
			*out = append(*out, u)
		case "field_declaration":
			mods := child.FindChildByType("modifiers")
			if mods != nil {
				text := mods.GetContent(source)
				if strings.Contains(text, "static") && strings.Contains(text, "final") {
					name := firstFieldName(child, source)
					if name != "" {
						u := makeUnit(child, source, KindConstant, name)
						*out = append(*out, u)
					}
				}
			}
		}
		e.walkJava(child, source, c, out)
	}
}

func firstFieldName(field *Node, source []byte) string {
	for _, decl := range field.FindChildrenByType("variable_declarator") {
		return firstChildContent(decl, source, "identifier")
	}
	return ""
}

// ---------------------------------------------------------------- c

func (e *SymbolExtractor) walkC(n *Node, source []byte, out *[]*SemanticUnit) {
	for _, child := range n.Children {
		switch child.Type {
		case "function_definition":
			name := cFunctionName(child, source)
			if name != "" {
				u := makeUnit(child, source, KindFunction, name)
				retType := firstChildContent(child, source, "primitive_type", "type_identifier", "sized_type_specifier", "struct_specifier")
				declarator := firstChildContent(child, source, "function_declarator", "pointer_declarator")
				u.Signature = strings.TrimSpace(retType + " " + declarator)
				u.DocComment = leadingComment(source, child, "//", "/*")
				*out = append(*out, u)
			}
		case "struct_specifier", "union_specifier":
			name := firstChildContent(child, source, "type_identifier")
			if name != "" {
				u := makeUnit(child, source, KindStruct, name)
				*out = append(*out, u)
			}
		case "enum_specifier":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindEnum, name)
			*out = append(*out, u)
		case "type_definition":
			name := lastIdentifier(child, source)
			u := makeUnit(child, source, KindTypeAlias, name)
			*out = append(*out, u)
		}
		e.walkC(child, source, out)
	}
}

func cFunctionName(fn *Node, source []byte) string {
	declarator := fn.FindChildByType("function_declarator")
	if declarator == nil {
		// could be nested under pointer_declarator
		for _, c := range fn.Children {
			if c.Type == "pointer_declarator" {
				declarator = c.FindChildByType("function_declarator")
			}
		}
	}
	if declarator == nil {
		return ""
	}
	return firstChildContent(declarator, source, "identifier")
}

func lastIdentifier(n *Node, source []byte) string {
	var last string
	for _, c := range n.Children {
		if c.Type == "type_identifier" || c.Type == "identifier" {
			last = c.GetContent(source)
		}
	}
	return last
}

// ---------------------------------------------------------------- cpp

func (e *SymbolExtractor) walkCpp(n *Node, source []byte, c ctx, out *[]*SemanticUnit) {
	for _, child := range n.Children {
		switch child.Type {
		case "function_definition":
			name := cFunctionName(child, source)
			if name == "" {
				name = cppQualifiedFunctionName(child, source)
			}
			if name != "" {
				kind := KindFunction
				if c.kind == KindClass {
					kind = KindMethod
				}
				u := makeUnit(child, source, kind, name)
				u.Parent = c.name
				*out = append(*out, u)
			}
		case "class_specifier":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindClass, name)
			*out = append(*out, u)
			e.walkCpp(child, source, ctx{kind: KindClass, name: name}, out)
			continue
		case "struct_specifier":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindStruct, name)
			*out = append(*out, u)
			e.walkCpp(child, source, ctx{kind: KindClass, name: name}, out)
			continue
		case "enum_specifier":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindEnum, name)
			*out = append(*out, u)
		case "namespace_definition":
			name := firstChildContent(child, source, "identifier", "namespace_identifier")
			u := makeUnit(child, source, KindModule, name)
			*out = append(*out, u)
			e.walkCpp(child, source, ctx{}, out)
			continue
		case "template_declaration":
			inner := templatedEntity(child)
			kind := KindFunction
			name := ""
			if inner != nil {
				switch inner.Type {
				case "class_specifier", "struct_specifier":
					kind = KindClass
					name = firstChildContent(inner, source, "type_identifier")
				case "function_definition":
					kind = KindFunction
					name = cFunctionName(inner, source)
				}
			}
			u := makeUnit(child, source, kind, name)
			*out = append(*out, u)
		case "type_definition":
			name := lastIdentifier(child, source)
			u := makeUnit(child, source, KindTypeAlias, name)
			*out = append(*out, u)
		case "alias_declaration":
			name := firstChildContent(child, source, "type_identifier")
			u := makeUnit(child, source, KindTypeAlias, name)
			*out = append(*out, u)
		}
		e.walkCpp(child, source, c, out)
	}
}

func templatedEntity(tmpl *Node) *Node {
	for _, c := range tmpl.Children {
		switch c.Type {
		case "function_definition", "class_specifier", "struct_specifier":
			return c
		}
	}
	return nil
}

func cppQualifiedFunctionName(fn *Node, source []byte) string {
	for _, c := range fn.Children {
		if c.Type == "function_declarator" {
			if qid := c.FindChildByType("qualified_identifier"); qid != nil {
				return qid.GetContent(source)
			}
			return firstChildContent(c, source, "identifier", "field_identifier", "destructor_name")
		}
	}
	return ""
}
