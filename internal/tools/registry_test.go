package tools

import "testing"

func TestDescriptorsStableOrder(t *testing.T) {
	want := []string{"add_task", "list_tasks", "complete_task", "update_task", "delete_task", "manage_tags"}
	descs := Descriptors()
	if len(descs) != len(want) {
		t.Fatalf("got %d descriptors, want %d", len(descs), len(want))
	}
	for i, name := range want {
		if descs[i].Name != name {
			t.Errorf("descriptor %d = %s, want %s", i, descs[i].Name, name)
		}
	}
}

func TestDerivedShapesStayInSync(t *testing.T) {
	defs := ToolDefinitions()
	infos := MCPToolInfos()
	descs := Descriptors()

	if len(defs) != len(descs) || len(infos) != len(descs) {
		t.Fatalf("derived shapes out of sync: %d defs, %d infos, %d descriptors",
			len(defs), len(infos), len(descs))
	}
	for i := range descs {
		if defs[i].Function.Name != descs[i].Name {
			t.Errorf("tool definition %d = %s, want %s", i, defs[i].Function.Name, descs[i].Name)
		}
		if defs[i].Type != "function" {
			t.Errorf("tool definition %d type = %s", i, defs[i].Type)
		}
		if infos[i].Name != descs[i].Name {
			t.Errorf("MCP tool %d = %s, want %s", i, infos[i].Name, descs[i].Name)
		}
		if infos[i].InputSchema["type"] != "object" {
			t.Errorf("MCP tool %s schema type = %v", infos[i].Name, infos[i].InputSchema["type"])
		}
	}
}

func TestSchemaCarriesRequiredFields(t *testing.T) {
	for _, def := range ToolDefinitions() {
		params := def.Function.Parameters
		if _, ok := params["properties"]; !ok {
			t.Errorf("%s: missing properties", def.Function.Name)
		}
		if _, ok := params["required"]; !ok {
			t.Errorf("%s: missing required list", def.Function.Name)
		}
	}
}
