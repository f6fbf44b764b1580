package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/Chative-docs-assistant/server/internal/inference"
	"github.com/Chative-docs-assistant/server/internal/session"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
)

// GraphConfig holds everything needed to build the chat graph.
type GraphConfig struct {
	Resolver      session.Resolver
	Model         model.BaseChatModel
	Augmenter     Augmenter
	Estimator     inference.Estimator
	Prompt        PromptConfig
	HistoryWindow int
	Now           func() time.Time
}

// GraphBuilder handles the construction of the chat graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[Request, Reply]
}

// BuildGraph constructs and compiles
// START -> history_loader -> retriever -> prompt_assembler -> responder -> recorder -> END.
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[Request, Reply], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Resolver == nil {
		return nil, fmt.Errorf("session resolver is nil")
	}
	if config.Model == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[Request, Reply](
			compose.WithGenLocalState(func(ctx context.Context) *ChatState {
				return &ChatState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	cfg := b.config

	if err := b.graph.AddLambdaNode(NodeHistoryLoader,
		newHistoryLoaderNode(),
		compose.WithStatePreHandler(newHistoryLoaderPreHandler(cfg.Resolver)),
		compose.WithStatePostHandler(newHistoryLoaderPostHandler()),
	); err != nil {
		return fmt.Errorf("add %s node: %w", NodeHistoryLoader, err)
	}

	if err := b.graph.AddLambdaNode(NodeRetriever,
		newRetrieverNode(cfg.Augmenter, cfg.Prompt),
		compose.WithStatePostHandler(newRetrieverPostHandler()),
	); err != nil {
		return fmt.Errorf("add %s node: %w", NodeRetriever, err)
	}

	if err := b.graph.AddChatTemplateNode(NodePromptAssembler,
		NewPromptTemplate(),
		compose.WithStatePreHandler(newPromptAssemblerPreHandler(cfg.HistoryWindow)),
	); err != nil {
		return fmt.Errorf("add %s node: %w", NodePromptAssembler, err)
	}

	if err := b.graph.AddChatModelNode(NodeResponder,
		cfg.Model,
		compose.WithStatePostHandler(newResponderPostHandler(cfg.Estimator)),
	); err != nil {
		return fmt.Errorf("add %s node: %w", NodeResponder, err)
	}

	if err := b.graph.AddLambdaNode(NodeRecorder,
		newRecorderNode(cfg.Estimator, cfg.Now),
	); err != nil {
		return fmt.Errorf("add %s node: %w", NodeRecorder, err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, NodeHistoryLoader},
		{NodeHistoryLoader, NodeRetriever},
		{NodeRetriever, NodePromptAssembler},
		{NodePromptAssembler, NodeResponder},
		{NodeResponder, NodeRecorder},
		{NodeRecorder, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[Request, Reply], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithGraphName("chat"))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Chat graph compiled successfully")
	return runnable, nil
}
