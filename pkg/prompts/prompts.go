// Package prompts assembles the LLM prompts for planning, refinement,
// replanning, reflection, and final answers. Templates carry explicit JSON
// output schemas so responses stay machine-parseable.
package prompts

// Formatting limits to keep prompts inside the context budget.
const (
	maxRecentCellChars = 300
	maxPackages        = 100
	maxOutputChars     = 200
)

const none = "없음"

const planTemplate = `당신은 Jupyter 노트북을 위한 Python 코드 전문가입니다.
사용자의 요청을 분석하고, 단계별 실행 계획을 JSON 형식으로 생성하세요.

## 사용 가능한 도구

1. **jupyter_cell**: Python 코드 셀 생성/수정/실행
   - parameters: {"code": "Python 코드", "cellIndex": 수정할_셀_인덱스(선택)}

2. **markdown**: 마크다운 설명 셀 생성/수정
   - parameters: {"content": "마크다운 텍스트", "cellIndex": 수정할_셀_인덱스(선택)}

3. **final_answer**: 작업 완료 및 최종 답변
   - parameters: {"answer": "최종 답변 텍스트", "summary": "작업 요약(선택)"}

## 노트북 컨텍스트

- 셀 개수: %d
- 임포트된 라이브러리: %s
- 정의된 변수: %s
- 설치된 패키지: %s
- 최근 셀 내용:
%s
%s
## 사용자 요청

%s

## 지침

1. 요청을 논리적인 단계로 분해하세요 (최대 10단계)
2. 각 단계는 명확한 목표와 도구 호출을 가져야 합니다
3. 코드는 즉시 실행 가능해야 합니다
4. 필요한 import 문을 포함하세요
5. 마지막 단계는 반드시 final_answer를 포함하세요
6. 한국어로 설명을 작성하세요

## 출력 형식 (JSON)

` + "```json" + `
{
  "reasoning": "계획 수립 이유에 대한 설명",
  "plan": {
    "totalSteps": 단계_수,
    "steps": [
      {
        "stepNumber": 1,
        "description": "단계 설명 (한국어)",
        "toolCalls": [
          {
            "tool": "jupyter_cell",
            "parameters": {
              "code": "Python 코드"
            }
          }
        ],
        "dependencies": []
      },
      ...
      {
        "stepNumber": N,
        "description": "최종 결과 제시",
        "toolCalls": [
          {
            "tool": "final_answer",
            "parameters": {
              "answer": "작업 완료 메시지"
            }
          }
        ],
        "dependencies": [N-1]
      }
    ]
  }
}
` + "```" + `

JSON만 출력하세요. 다른 텍스트 없이.`

const refineTemplate = `다음 코드가 오류로 실패했습니다. 수정된 코드를 제공하세요.

## 원래 코드

` + "```python" + `
%s
` + "```" + `

## 오류 정보

- 오류 유형: %s
- 오류 메시지: %s
- 트레이스백:
` + "```" + `
%s
` + "```" + `

## 시도 횟수

%d/%d

## 컨텍스트

- 사용 가능한 라이브러리: %s
- 정의된 변수: %s

## 지침

1. 오류의 근본 원인을 분석하세요
2. 수정된 코드를 제공하세요
3. 같은 오류가 반복되지 않도록 하세요
4. 필요하면 대안적인 접근법을 사용하세요

## 출력 형식 (JSON)

` + "```json" + `
{
  "reasoning": "오류 분석 및 수정 방법 설명",
  "toolCalls": [
    {
      "tool": "jupyter_cell",
      "parameters": {
        "code": "수정된 Python 코드"
      }
    }
  ]
}
` + "```" + `

JSON만 출력하세요.`

const replanTemplate = `에러가 발생했습니다. 출력과 에러를 분석하여 계획을 수정하거나 새로운 접근법을 제시하세요.

## 원래 요청

%s

## 현재까지 실행된 단계

%s

## 실패한 단계

- 단계 번호: %s
- 설명: %s
- 실행된 코드:
` + "```python" + `
%s
` + "```" + `

## 에러 정보

- 오류 유형: %s
- 오류 메시지: %s
- 트레이스백:
` + "```" + `
%s
` + "```" + `

## 실행 출력 (stdout/stderr)

` + "```" + `
%s
` + "```" + `

## 설치된 패키지

%s

## 분석 지침

1. **근본 원인 분석**: 단순 코드 버그인가, 접근법 자체의 문제인가?
2. **필요한 선행 작업**: 누락된 import, 데이터 변환, 환경 설정이 있는가?
3. **대안적 접근법**: 다른 라이브러리나 방법을 사용해야 하는가?

## 🚨 필수 규칙 (반드시 준수)

1. ModuleNotFoundError / ImportError는 반드시 "insert_steps"로 결정하고, 누락된 패키지를 설치하는 새 단계를 추가하세요
2. 현재 사용 중인 라이브러리를 다른 라이브러리로 교체하지 마세요
3. 설치 명령의 인덱스 URL을 임의로 줄이거나 생략하지 마세요
4. 간접 의존성 오류는 누락된 패키지만 설치하세요. 예: dask 실행 중 "No module named 'pyarrow'" → pyarrow를 설치 (dask를 교체하지 않음)

## 결정 옵션

1. **refine**: 같은 접근법으로 코드만 수정 (단순 버그)
2. **insert_steps**: 현재 단계 전에 필요한 단계 추가 (선행 작업 필요)
3. **replace_step**: 현재 단계를 완전히 다른 접근법으로 교체
4. **replan_remaining**: 남은 모든 단계를 새로 계획

## 출력 형식 (JSON)

` + "```json" + `
{
  "analysis": {
    "root_cause": "근본 원인 분석 (한국어)",
    "is_approach_problem": true/false,
    "missing_prerequisites": ["누락된 선행 작업들"]
  },
  "decision": "refine | insert_steps | replace_step | replan_remaining",
  "reasoning": "결정 이유 설명 (한국어)",
  "changes": {
    "refined_code": "refine인 경우: 수정된 코드",
    "new_steps": [{"description": "insert_steps인 경우: 새 단계", "toolCalls": [{"tool": "jupyter_cell", "parameters": {"code": "코드"}}]}],
    "replacement": {"description": "replace_step인 경우: 새 단계", "toolCalls": [{"tool": "jupyter_cell", "parameters": {"code": "코드"}}]},
    "new_plan": [{"description": "replan_remaining인 경우: 단계 설명", "toolCalls": [{"tool": "jupyter_cell", "parameters": {"code": "코드"}}]}]
  }
}
` + "```" + `

JSON만 출력하세요.`

const structuredPlanTemplate = `당신은 Jupyter 노트북을 위한 Python 코드 전문가입니다.
사용자의 요청을 체계적으로 분석하고, 검증 가능한 단계별 실행 계획을 생성하세요.

## 분석 프레임워크

### 1. 문제 분해 (Problem Decomposition)
- 핵심 목표는 무엇인가?
- 필수 단계와 선택적 단계는 무엇인가?
- 각 단계의 입력과 출력은 무엇인가?

### 2. 의존성 분석 (Dependency Analysis)
- 어떤 라이브러리가 필요한가?
- 단계 간 데이터 흐름은 어떠한가?
- 어떤 변수/객체가 단계 간에 공유되는가?

### 3. 위험도 평가 (Risk Assessment)
- 실패 가능성이 높은 단계는?
- 외부 의존성(API, 파일, 네트워크)이 있는 단계는?
- 실행 시간이 오래 걸릴 수 있는 단계는?

### 4. 검증 전략 (Validation Strategy)
- 각 단계의 성공을 어떻게 확인할 수 있는가?
- 예상 출력 형태는 무엇인가?
- 체크포인트 기준은 무엇인가?

## 사용 가능한 도구

1. **jupyter_cell**: Python 코드 셀 생성/수정/실행
   - parameters: {"code": "Python 코드", "cellIndex": 수정할_셀_인덱스(선택)}

2. **markdown**: 마크다운 설명 셀 생성/수정
   - parameters: {"content": "마크다운 텍스트", "cellIndex": 수정할_셀_인덱스(선택)}

3. **final_answer**: 작업 완료 및 최종 답변
   - parameters: {"answer": "최종 답변 텍스트", "summary": "작업 요약(선택)"}

## 노트북 컨텍스트

- 셀 개수: %d
- 임포트된 라이브러리: %s
- 정의된 변수: %s
- 설치된 패키지: %s
- 최근 셀 내용:
%s
%s
## 사용자 요청

%s

## 출력 형식 (JSON)

` + "```json" + `
{
  "analysis": {
    "problem_decomposition": {
      "core_goal": "핵심 목표",
      "essential_steps": ["필수 단계 목록"],
      "optional_steps": ["선택적 단계 목록"]
    },
    "dependency_analysis": {
      "required_libraries": ["필요한 라이브러리"],
      "data_flow": "데이터 흐름 설명",
      "shared_variables": ["공유 변수"]
    },
    "risk_assessment": {
      "high_risk_steps": [1, 2],
      "external_dependencies": ["외부 의존성"],
      "estimated_complexity": "low | medium | high"
    }
  },
  "reasoning": "계획 수립 이유에 대한 설명",
  "plan": {
    "totalSteps": 단계_수,
    "steps": [
      {
        "stepNumber": 1,
        "description": "단계 설명 (한국어)",
        "toolCalls": [
          {
            "tool": "jupyter_cell",
            "parameters": {
              "code": "Python 코드"
            }
          }
        ],
        "dependencies": [],
        "checkpoint": {
          "expectedOutcome": "예상 결과",
          "validationCriteria": ["검증 기준 1", "검증 기준 2"],
          "successIndicators": ["성공 지표"]
        },
        "riskLevel": "low | medium | high"
      }
    ]
  }
}
` + "```" + `

JSON만 출력하세요. 다른 텍스트 없이.`

const reflectionTemplate = `실행 결과를 분석하고 다음 단계에 대한 조정을 제안하세요.

## 실행된 단계

- 단계 번호: %d
- 설명: %s
- 실행된 코드:
` + "```python" + `
%s
` + "```" + `

## 실행 결과

- 상태: %s
- 출력:
` + "```" + `
%s
` + "```" + `
- 오류 (있는 경우):
` + "```" + `
%s
` + "```" + `

## 체크포인트 기준

- 예상 결과: %s
- 검증 기준:
%s

## 남은 단계

%s

## 분석 요청

1. **결과 평가**: 실행 결과가 예상과 일치하는가?
2. **성공/실패 요인**: 무엇이 잘 되었고 무엇이 문제인가?
3. **다음 단계 영향**: 이 결과가 남은 단계에 어떤 영향을 미치는가?
4. **조정 제안**: 계획을 수정해야 하는가?

## 출력 형식 (JSON)

` + "```json" + `
{
  "evaluation": {
    "checkpoint_passed": true/false,
    "output_matches_expected": true/false,
    "confidence_score": 0.0-1.0
  },
  "analysis": {
    "success_factors": ["성공 요인들"],
    "failure_factors": ["실패 요인들"],
    "unexpected_outcomes": ["예상치 못한 결과들"]
  },
  "impact_on_remaining": {
    "affected_steps": [단계_번호들],
    "severity": "none | minor | major | critical",
    "description": "영향 설명"
  },
  "recommendations": {
    "action": "continue | adjust | retry | replan",
    "adjustments": [
      {
        "step_number": 단계_번호,
        "change_type": "modify_code | add_step | remove_step | change_approach",
        "description": "변경 설명",
        "new_content": "새 코드 또는 내용 (필요한 경우)"
      }
    ],
    "reasoning": "조정 이유"
  }
}
` + "```" + `

JSON만 출력하세요.`

const finalAnswerTemplate = `작업이 완료되었습니다. 결과를 요약해주세요.

## 원래 요청

%s

## 실행된 단계

%s

## 생성된 출력

%s

## 지침

1. 작업 결과를 간결하게 요약하세요
2. 주요 발견사항이나 결과를 강조하세요
3. 다음 단계에 대한 제안이 있으면 포함하세요
4. 한국어로 작성하세요

## 출력

간결한 요약 텍스트 (200자 이내)`
