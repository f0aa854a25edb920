package robot

import "github.com/shaharia-lab/robomcp/mcp"

var diagnoseTemplates = map[string]string{
	"all": `Run a full robot diagnostic:

STEP 1: Check the battery
- Read resource: robot://status/battery
- Decide whether the level is > 20% (OK) or < 20% (CRITICAL)

STEP 2: Check every joint
- Read resource: robot://joints/all
- For each joint check:
  * the position is sensible (|p| < 3.14 rad)
  * the torque is not excessive (|t| < 10 Nm is normal)

STEP 3: Write a report
Format:
  Battery: [level]% - [status]
  Joints: [number checked] - [status]
  Notes: [any problems]
  Recommendations: [what to do]
`,

	"joints": `Check the joints:

1. Read every joint (robot://joints/all)
2. For each joint:
   - Is the position within range?
   - Is the torque normal?
3. Report anything abnormal
`,

	"battery": `Check the battery:

1. Read the level (robot://status/battery)
2. Assess:
   - > 80%: Full
   - 20-80%: OK
   - < 20%: WARNING - recharge
3. Suggest an action if the level is low
`,
}

// diagnosePrompt renders the template for a component. Unknown components
// get the full diagnostic.
func diagnosePrompt(args mcp.Arguments) (string, error) {
	if text, ok := diagnoseTemplates[args.String("component")]; ok {
		return text, nil
	}
	return diagnoseTemplates["all"], nil
}
