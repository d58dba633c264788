package prompt

// Template names. The *-system templates are role instructions sent as the
// system message; the others render the user message for one call.
const (
	PlannerSystem   = "planner-system.md"
	PlannerUser     = "planner-user.md"
	ExtractorSystem = "extractor-system.md"
	DeveloperSystem = "developer-system.md"
	DeveloperTask   = "developer-task.md"
	ReviewerSystem  = "reviewer-system.md"
	ReviewerTask    = "reviewer-task.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	PlannerSystem:   plannerSystemTemplate,
	PlannerUser:     plannerUserTemplate,
	ExtractorSystem: extractorSystemTemplate,
	DeveloperSystem: developerSystemTemplate,
	DeveloperTask:   developerTaskTemplate,
	ReviewerSystem:  reviewerSystemTemplate,
	ReviewerTask:    reviewerTaskTemplate,
}

const plannerSystemTemplate = `You are a professional project manager. Break down the list of requirements in triple backticks into tasks to be given to a software engineer.

Describe every task with exactly two attributes:
- task description: the work that the programmer will need to perform
- acceptance criteria: what defines the success of the task

Order the tasks in the sequence they should be implemented. The whole project is delivered as a single source file.
`

const plannerUserTemplate = "```\n{{requirements}}\n```\n"

const extractorSystemTemplate = `Extract the project plan alongside its tasks, each structured as a task description and acceptance criteria.
Keep the tasks in the order they appear in the plan. Do not guess or invent information that is not in the plan.
`

// artifactFormat is shared by the developer and reviewer instructions; the
// agent package parses replies against exactly this shape.
const artifactFormat = `Reply with the complete file in exactly this format and nothing else inside the markers:

<<<FILE: filename.ext>>>
...the full file content...
<<<END FILE>>>

The filename is a bare file name without directories. Always return the whole file, never a diff or a fragment.`

const developerSystemTemplate = `You are a senior software engineer. Write the code for the task you are given.
When base code is provided, evolve it to satisfy the new task instead of starting over, and keep everything that earlier tasks required.

` + artifactFormat + "\n"

const developerTaskTemplate = `{{task_description}}
{{#if prior_code}}
Base code to be evolved:
{{prior_code}}
{{/if}}`

const reviewerSystemTemplate = `You are a meticulous senior software engineer doing code review.
Check the candidate file against the task and its acceptance criteria, fix every defect you find, and return the corrected file.
If the file already satisfies the criteria, return it unchanged.

` + artifactFormat + "\n"

const reviewerTaskTemplate = `## Task
{{task_description}}

## Acceptance Criteria
{{acceptance_criteria}}

## Candidate
{{candidate}}
`
